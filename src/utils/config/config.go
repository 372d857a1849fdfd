package config

import (
	"bytes"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config stores global configuration for the client synchronizer.
type Config struct {
	// Is development mode on
	IsDevelopment bool

	// Maximum time the synchronizer will spend closing before stop is forced.
	StopTimeout time.Duration

	// Logging level
	LogLevel string

	Node             Node
	Database         Database
	ReadOnlyDatabase Database
	Synchronizer     Synchronizer
	Monitor          Monitor
}

func setDefaults() {
	viper.SetDefault("IsDevelopment", "false")
	viper.SetDefault("LogLevel", "DEBUG")
	viper.SetDefault("StopTimeout", "30s")

	setNodeDefaults()
	setDatabaseDefaults()
	setReadOnlyDatabaseDefaults()
	setSynchronizerDefaults()
	setMonitorDefaults()
}

func Default() (config *Config) {
	config, _ = Load("")
	return
}

func BindEnv(path []string, val reflect.Value) {
	if val.Kind() != reflect.Struct {
		key := path[0]
		for _, p := range path[1:] {
			key += "." + p
		}

		env := "SYNC_" + strcase.ToScreamingSnake(strings.Join(path, "_"))
		err := viper.BindEnv(key, env)
		if err != nil {
			panic(err)
		}
		return
	}

	// Iterates over struct fields. Works with embedded structs.
	for i := 0; i < val.NumField(); i++ {
		newPath := make([]string, len(path))
		copy(newPath, path)
		newPath = append(newPath, val.Type().Field(i).Name)
		BindEnv(newPath, val.Field(i))
	}
}

func defaultDecoderConfig(output interface{}) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           output,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
}

// Load reads configuration from an optional JSON file, then overlays
// environment variables bound in BindEnv.
func Load(filename string) (config *Config, err error) {
	viper.SetConfigType("json")

	setDefaults()

	BindEnv([]string{}, reflect.ValueOf(Config{}))

	if filename != "" {
		var content []byte
		/* #nosec */
		content, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}

		err = viper.ReadConfig(bytes.NewBuffer(content))
		if err != nil {
			return nil, err
		}
	}

	config = new(Config)
	err = viper.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		*dc = *defaultDecoderConfig(config)
	})
	if err != nil {
		return nil, err
	}

	return
}
