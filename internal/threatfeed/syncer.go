package threatfeed

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Syncer loads the feed once at startup and then on a cron schedule.
type Syncer struct {
	store    *Store
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
	ctx      context.Context
}

// NewSyncer creates a syncer for store. An empty schedule disables periodic
// reloads; Start then performs only the initial load.
func NewSyncer(store *Store, schedule string, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Syncer{
		store:    store,
		schedule: schedule,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:   logger,
	}
}

// Start performs the initial load synchronously and schedules reloads.
// Scheduled reloads run with ctx until Stop is called.
func (s *Syncer) Start(ctx context.Context) error {
	s.ctx = ctx
	s.store.Load(ctx)

	if s.schedule == "" {
		s.logger.Info("threat feed periodic reload disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.reload); err != nil {
		return fmt.Errorf("failed to schedule feed reload %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("threat feed reload scheduled", zap.String("schedule", s.schedule))
	return nil
}

func (s *Syncer) reload() {
	if s.ctx.Err() != nil {
		return
	}
	snap := s.store.Load(s.ctx)
	s.logger.Debug("scheduled threat feed reload finished",
		zap.String("provenance", string(snap.Provenance())), zap.Int("records", snap.Size()))
}

// Stop halts the schedule and returns a context that is done once any
// running reload has finished.
func (s *Syncer) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
