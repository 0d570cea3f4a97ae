package artifact

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Store.Sweep on a cron schedule.
type Sweeper struct {
	cron *cron.Cron
}

// NewSweeper schedules sweeps of store with the given cron spec. Descriptors
// such as "@hourly" are accepted.
func NewSweeper(store *Store, spec string, maxAge time.Duration) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := store.Sweep(maxAge); err != nil {
			slog.Error("artifact sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return &Sweeper{cron: c}, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
