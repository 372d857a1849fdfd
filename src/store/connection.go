// Package store is the gorm/postgres-backed implementation of
// domain.Database, grounded on the teacher's utils/model package: the same
// Connect/NewConnection/Migrate shape, driven by embedded sql-migrate
// migrations instead of a bundled contract-state schema.
package store

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/l2privacy/client-sync/src/utils/config"
	l "github.com/l2privacy/client-sync/src/utils/logger"

	migrate "github.com/rubenv/sql-migrate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Version is stamped into the database connection's application_name so
// it shows up in pg_stat_activity. Overridden at link time in real builds.
var Version = "dev"

func Connect(ctx context.Context, dbConfig *config.Database, username, password, applicationName string) (self *gorm.DB, err error) {
	log := l.NewSublogger("db")

	gl := gormlogger.New(log,
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Error,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s/client-sync/%s",
		dbConfig.Host,
		dbConfig.Port,
		username,
		password,
		dbConfig.Name,
		dbConfig.SslMode,
		applicationName,
		Version,
	)

	if dbConfig.ClientKey != "" && dbConfig.ClientCert != "" && dbConfig.CaCert != "" {
		log.Info("Using SSL certificates from variables")

		var keyFile, certFile, caFile *os.File
		keyFile, err = os.CreateTemp("", "key.pem")
		if err != nil {
			return
		}
		defer os.Remove(keyFile.Name())
		if _, err = keyFile.WriteString(dbConfig.ClientKey); err != nil {
			return
		}

		certFile, err = os.CreateTemp("", "cert.pem")
		if err != nil {
			return
		}
		defer os.Remove(certFile.Name())
		if _, err = certFile.WriteString(dbConfig.ClientCert); err != nil {
			return
		}

		caFile, err = os.CreateTemp("", "ca.pem")
		if err != nil {
			return
		}
		defer os.Remove(caFile.Name())
		if _, err = caFile.WriteString(dbConfig.CaCert); err != nil {
			return
		}

		dsn += fmt.Sprintf(" sslcert=%s sslkey=%s sslrootcert=%s", certFile.Name(), keyFile.Name(), caFile.Name())
	}

	self, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return
	}

	db, err := self.DB()
	if err != nil {
		return
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxIdleTime(dbConfig.ConnMaxIdleTime)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	if err = ping(ctx, dbConfig, self); err != nil {
		return
	}

	return
}

func NewConnection(ctx context.Context, cfg *config.Config, applicationName string) (self *gorm.DB, err error) {
	if err = Migrate(ctx, cfg); err != nil {
		return
	}

	return Connect(ctx, &cfg.Database, cfg.Database.User, cfg.Database.Password, applicationName)
}

func NewReadOnlyConnection(ctx context.Context, cfg *config.Config, applicationName string) (self *gorm.DB, err error) {
	return Connect(ctx, &cfg.ReadOnlyDatabase, cfg.ReadOnlyDatabase.User, cfg.ReadOnlyDatabase.Password, applicationName)
}

func Migrate(ctx context.Context, cfg *config.Config) (err error) {
	log := l.NewSublogger("db-migrate")

	if cfg.Database.MigrationUser == "" || cfg.Database.MigrationPassword == "" {
		log.Info("Migration user not set, skipping migrations")
		return
	}

	migrations := &migrate.HttpFileSystemMigrationSource{
		FileSystem: http.FS(MigrationsFS),
	}

	self, err := Connect(ctx, &cfg.Database, cfg.Database.MigrationUser, cfg.Database.MigrationPassword, "migration")
	if err != nil {
		return
	}

	db, err := self.DB()
	if err != nil {
		return
	}
	defer db.Close()

	n, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		return
	}

	log.WithField("num", n).Info("Applied migrations")

	cfg.Database.MigrationUser = ""
	cfg.Database.MigrationPassword = ""

	return
}

func ping(ctx context.Context, dbConfig *config.Database, db *gorm.DB) (err error) {
	if dbConfig.PingTimeout < 0 {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbConfig.PingTimeout)
	defer cancel()

	return sqlDB.PingContext(dbCtx)
}
