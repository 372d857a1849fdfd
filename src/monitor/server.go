package monitor

import (
	"context"
	"net/http"

	"github.com/l2privacy/client-sync/src/synchronizer"
	"github.com/l2privacy/client-sync/src/utils/config"
	"github.com/l2privacy/client-sync/src/utils/task"

	"github.com/gin-gonic/gin"
)

// SyncStatusProvider is implemented by *synchronizer.Synchronizer.
type SyncStatusProvider interface {
	GetSyncStatus(ctx context.Context) (*synchronizer.SyncStatus, error)
}

// Server is the HTTP status server from spec.md §6's control surface,
// grounded on the teacher's sync/server.go.
type Server struct {
	*task.Task

	httpServer *http.Server
	Router     *gin.Engine

	monitor *Monitor
	status  SyncStatusProvider
}

func NewServer(cfg *config.Config) (self *Server) {
	self = new(Server)

	self.Task = task.NewTask(cfg, "monitor-server").
		WithSubtaskFunc(self.run).
		WithOnStop(self.stop)

	self.Router = gin.New()

	self.httpServer = &http.Server{
		Addr:    cfg.Monitor.ListenAddress,
		Handler: self.Router,
	}

	return
}

func (self *Server) WithMonitor(monitor *Monitor) *Server {
	self.monitor = monitor
	return self
}

func (self *Server) WithSyncStatusProvider(status SyncStatusProvider) *Server {
	self.status = status
	return self
}

func (self *Server) run() (err error) {
	gin.SetMode(gin.ReleaseMode)

	v1 := self.Router.Group("v1")
	{
		v1.GET("health", self.monitor.OnGet)
	}
	self.Router.GET("status", self.onStatus)

	err = self.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		self.Log.WithError(err).Error("Failed to start status server")
		return
	}
	return nil
}

func (self *Server) onStatus(c *gin.Context) {
	status, err := self.status.GetSyncStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (self *Server) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), self.Config.StopTimeout)
	defer cancel()

	if err := self.httpServer.Shutdown(ctx); err != nil {
		self.Log.WithError(err).Error("Failed to gracefully shutdown status server")
	}
}
