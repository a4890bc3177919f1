package services

import (
	"context"
	"sync"
	"time"

	"iqbot/internal/logger"
	"iqbot/internal/workspace"
	"iqbot/models"

	"github.com/go-co-op/gocron"
)

const snapshotJobTag = "workspace-snapshot"

// SnapshotSaver persists workspace snapshots.
type SnapshotSaver interface {
	Save(ctx context.Context, snap models.WorkspaceSnapshot) error
}

// CronService periodically saves the workspace when it changed since the
// last save.
type CronService struct {
	ws        *workspace.Workspace
	store     SnapshotSaver
	interval  time.Duration
	scheduler *gocron.Scheduler

	mu        sync.Mutex
	lastSaved uint64
	saved     bool
}

func NewCronService(ws *workspace.Workspace, store SnapshotSaver, interval time.Duration) *CronService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CronService{
		ws:        ws,
		store:     store,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// MarkSaved records that revision is already persisted, e.g. right after a
// snapshot was loaded.
func (c *CronService) MarkSaved(revision uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSaved = revision
	c.saved = true
}

func (c *CronService) Start() error {
	_, err := c.scheduler.Every(c.interval).
		Tag(snapshotJobTag).
		SingletonMode().
		WaitForSchedule().
		Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := c.SaveIfChanged(ctx); err != nil {
				logger.Error("Scheduled snapshot failed", "workspace", c.ws.ID, "error", err)
			}
		})
	if err != nil {
		return err
	}
	c.scheduler.StartAsync()
	logger.Info("Snapshot scheduler started", "workspace", c.ws.ID, "interval", c.interval.String())
	return nil
}

// Stop halts the schedule and writes a final snapshot.
func (c *CronService) Stop(ctx context.Context) {
	c.scheduler.Stop()
	if _, err := c.SaveIfChanged(ctx); err != nil {
		logger.Error("Final snapshot failed", "workspace", c.ws.ID, "error", err)
	}
}

// SaveIfChanged saves a snapshot unless the workspace revision is the one
// saved last. It reports whether a snapshot was written.
func (c *CronService) SaveIfChanged(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rev := c.ws.Revision()
	if c.saved && rev == c.lastSaved {
		return false, nil
	}
	snap := c.ws.Snapshot()
	if err := c.store.Save(ctx, snap); err != nil {
		return false, err
	}
	c.lastSaved = snap.Revision
	c.saved = true
	return true, nil
}
