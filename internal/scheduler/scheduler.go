// Package scheduler exports the live reading buffer to CSV on a cron
// schedule.
package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Exporter writes every live reading to a CSV file.
type Exporter interface {
	ExportLiveData(path string) error
}

type Scheduler struct {
	exporter Exporter
	dir      string
	schedule string
	logger   *logrus.Logger
	cron     *cron.Cron
	now      func() time.Time
}

func NewScheduler(exporter Exporter, dir, schedule string, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		exporter: exporter,
		dir:      dir,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:      time.Now,
	}
}

// Start the scheduler. Schedules use the standard five field syntax or
// descriptors such as @hourly.
func (s *Scheduler) Start() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.ExportNow(); err != nil {
			s.logger.WithError(err).Error("Scheduled export failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid export schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": s.schedule,
		"dir":      s.dir,
	}).Info("Scheduled live data exports")
	return nil
}

// ExportNow writes an export named after the current time and returns its
// path.
func (s *Scheduler) ExportNow() (string, error) {
	name := fmt.Sprintf("currentcost-%s.csv", s.now().UTC().Format("20060102-150405"))
	path := filepath.Join(s.dir, name)
	if err := s.exporter.ExportLiveData(path); err != nil {
		return "", fmt.Errorf("failed to export live data to %s: %w", path, err)
	}
	s.logger.WithField("path", path).Info("Exported live data")
	return path, nil
}

// Stop the scheduler, waiting for a running export to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
