// Package monitor tracks and serves the synchronizer's observability
// counters, grounded on the teacher's utils/monitor package: a periodic
// speed sample kept in a bounded deque, and a Report struct of
// go.uber.org/atomic counters served as JSON over gin.
package monitor

import (
	"math"
	"net/http"
	"time"

	"github.com/l2privacy/client-sync/src/utils/task"

	"github.com/gammazero/deque"
	"github.com/gin-gonic/gin"
)

type Monitor struct {
	*task.Task

	Report Report

	historySize  int
	blockHeights *deque.Deque[int64]
}

func NewMonitor() (self *Monitor) {
	self = new(Monitor)
	self.historySize = 30

	self.Task = task.NewTask(nil, "monitor").
		WithPeriodicSubtaskFunc(time.Minute, self.monitorBlocks)

	return
}

func (self *Monitor) WithMaxHistorySize(maxHistorySize int) *Monitor {
	self.historySize = maxHistorySize
	self.blockHeights = deque.New[int64](self.historySize)
	self.Report.StartTimestamp.Store(time.Now().Unix())
	return self
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}

func (self *Monitor) monitorBlocks() error {
	loaded := self.Report.SyncerCurrentHeight.Load()
	if loaded == 0 {
		return nil
	}

	self.blockHeights.PushBack(loaded)
	if self.blockHeights.Len() > self.historySize {
		self.blockHeights.PopFront()
	}
	if self.blockHeights.Len() < 2 {
		return nil
	}

	value := float64(self.blockHeights.Back()-self.blockHeights.Front()) / float64(self.blockHeights.Len()-1)
	self.Report.AverageBlocksProcessedPerMinute.Store(round(value))
	return nil
}

func (self *Monitor) OnGetState(c *gin.Context) {
	self.Report.Fill()
	c.JSON(http.StatusOK, &self.Report)
}

func (self *Monitor) OnGet(c *gin.Context) {
	self.Report.Fill()
	c.JSON(http.StatusOK, &self.Report)
}
