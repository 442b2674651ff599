package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pitchmail/models"
	"pitchmail/store"
	"pitchmail/utils"
)

var ErrStepInProgress = errors.New("step already has a running worker")

const defaultInterval = 20 * time.Second

// StepRunner processes one due step. *Dispatcher implements it.
type StepRunner interface {
	ProcessStep(ctx context.Context, step models.SequenceStep) (RunResult, error)
}

// StepGroup is a set of steps sharing one scheduled instant.
type StepGroup struct {
	ScheduledAt time.Time
	Steps       []models.SequenceStep
}

// GroupByScheduledAt groups steps by exact scheduled instant, earliest first.
func GroupByScheduledAt(steps []models.SequenceStep) []StepGroup {
	index := make(map[int64]int)
	var groups []StepGroup
	for _, step := range steps {
		at := step.ScheduledAt.UTC()
		key := at.UnixNano()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, StepGroup{ScheduledAt: at})
		}
		groups[i].Steps = append(groups[i].Steps, step)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].ScheduledAt.Before(groups[j].ScheduledAt)
	})
	return groups
}

// SequenceScheduler polls for due steps and runs each one concurrently.
// At most one worker runs per step at a time.
type SequenceScheduler struct {
	Store    store.Store
	Runner   StepRunner
	Interval time.Duration
	Now      func() time.Time
	Logger   *logrus.Entry

	mu       sync.Mutex
	inFlight map[uint]struct{}
	wg       sync.WaitGroup
}

func NewSequenceScheduler(st store.Store, runner StepRunner, interval time.Duration) *SequenceScheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &SequenceScheduler{
		Store:    st,
		Runner:   runner,
		Interval: interval,
		Now:      time.Now,
		Logger:   logrus.WithField("component", "scheduler"),
		inFlight: make(map[uint]struct{}),
	}
}

// Start ticks immediately and then every Interval until ctx is done. It
// returns after the workers it launched have finished.
func (s *SequenceScheduler) Start(ctx context.Context) {
	s.Logger.WithField("interval", s.Interval.String()).Info("Sequence scheduler started")

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("Sequence scheduler shutting down...")
			s.Wait()
			s.Logger.Info("Sequence scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick launches a worker for every due step that is not already running and
// returns how many were launched. It never panics.
func (s *SequenceScheduler) Tick(ctx context.Context) (launched int) {
	defer func() {
		if r := recover(); r != nil {
			utils.LogError("scheduler_tick_panic", fmt.Errorf("%v", r), nil)
		}
	}()

	if ctx.Err() != nil {
		return 0
	}

	now := s.Now().UTC()
	steps, err := s.Store.DueSteps(ctx, now)
	if err != nil {
		utils.LogError("scheduler_due_steps", err, map[string]interface{}{"now": now})
		return 0
	}
	if len(steps) == 0 {
		return 0
	}

	for _, group := range GroupByScheduledAt(steps) {
		s.Logger.WithFields(logrus.Fields{
			"scheduled_at": group.ScheduledAt.Format(time.RFC3339),
			"steps":        len(group.Steps),
		}).Info("Dispatching due steps")

		for _, step := range group.Steps {
			err := s.Dispatch(ctx, step)
			switch {
			case err == nil:
				launched++
			case errors.Is(err, ErrStepInProgress):
				s.Logger.WithField("step_id", step.ID).Debug("Step still running, skipped")
			default:
				s.Logger.WithError(err).WithField("step_id", step.ID).Warn("Step not dispatched")
			}
		}
	}
	return launched
}

// Dispatch starts a worker for step unless one is already running.
func (s *SequenceScheduler) Dispatch(ctx context.Context, step models.SequenceStep) error {
	if !s.acquire(step.ID) {
		return ErrStepInProgress
	}
	s.wg.Add(1)
	go s.run(ctx, step)
	return nil
}

func (s *SequenceScheduler) run(ctx context.Context, step models.SequenceStep) {
	defer s.wg.Done()
	defer s.release(step.ID)
	defer func() {
		if r := recover(); r != nil {
			utils.LogError("dispatch_panic", fmt.Errorf("%v", r), map[string]interface{}{"step_id": step.ID})
		}
	}()

	// The step may have been completed between DueSteps and the previous
	// worker releasing it.
	current, err := s.Store.GetStep(ctx, step.ID)
	if err != nil {
		s.Logger.WithError(err).WithField("step_id", step.ID).Warn("Step reload failed, run skipped")
		return
	}
	if current.IsSent {
		s.Logger.WithField("step_id", step.ID).Debug("Step already completed, run skipped")
		return
	}

	res, err := s.Runner.ProcessStep(ctx, *current)
	log := s.Logger.WithFields(logrus.Fields{
		"step_id":   step.ID,
		"sent":      res.Sent,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
		"completed": res.Completed,
	})
	if err != nil {
		log.WithError(err).Warn("Step run ended without completing")
		return
	}
	log.Debug("Step run finished")
}

func (s *SequenceScheduler) acquire(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		s.inFlight = make(map[uint]struct{})
	}
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *SequenceScheduler) release(id uint) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// InFlight reports whether a worker is currently running for the step.
func (s *SequenceScheduler) InFlight(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[id]
	return busy
}

// Wait blocks until every launched worker has returned.
func (s *SequenceScheduler) Wait() {
	s.wg.Wait()
}
