package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"geowatch/internal/model"
)

// DefaultLockName is the lease every scheduler sharing a database competes for.
const DefaultLockName = "monitoring_job"

var (
	// ErrPassInProgress is returned when a pass is requested while another
	// one is still running in this process.
	ErrPassInProgress = errors.New("monitor pass already running")

	// ErrLockHeld is returned when another process holds the job lock.
	ErrLockHeld = errors.New("monitoring job lock held by another process")

	// ErrSchedulerStarted is returned by Start on a running scheduler.
	ErrSchedulerStarted = errors.New("scheduler already started")

	// ErrLeaseLost is the cause attached to a pass cancelled because its job
	// lock could not be renewed.
	ErrLeaseLost = errors.New("monitoring job lock lost")
)

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	Interval           time.Duration
	RunOnStart         bool
	MaxConcurrentAreas int
	LockName           string
	LockTTL            time.Duration
	HolderID           string

	// LockRenewInterval is how often a running pass extends its lease.
	// Defaults to a third of LockTTL.
	LockRenewInterval time.Duration
}

// PassResult summarizes one scheduler firing.
type PassResult struct {
	PassID      string
	Status      model.PassStatus
	AreasTotal  int
	AreasFailed int
	Elapsed     time.Duration
}

// Scheduler fires a monitoring pass over every area on a fixed interval.
// Passes never overlap: a firing while a pass runs is skipped, and the
// database lease keeps separate processes apart.
type Scheduler struct {
	svc  *Service
	opts SchedulerOptions

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler driving svc. Zero-valued options fall
// back to a 5 minute interval, one area at a time and a 30 minute lease.
func NewScheduler(svc *Service, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MaxConcurrentAreas < 1 {
		opts.MaxConcurrentAreas = 1
	}
	if opts.LockName == "" {
		opts.LockName = DefaultLockName
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.LockRenewInterval <= 0 || opts.LockRenewInterval >= opts.LockTTL {
		opts.LockRenewInterval = opts.LockTTL / 3
	}
	if opts.HolderID == "" {
		opts.HolderID = svc.idgen.New()
	}
	return &Scheduler{svc: svc, opts: opts}
}

// Start launches the firing loop in the background. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.loop(ctx)

	s.svc.logger.Info("scheduler started", "interval", s.opts.Interval.String(), "holder", s.opts.HolderID)
	return nil
}

// Stop cancels the loop and waits for any in-flight pass to wind down. The
// current tile group of each running comparison still commits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.svc.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if s.opts.RunOnStart {
		s.fire(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire runs a pass in its own goroutine so the ticker keeps firing; those
// firings are then skipped by RunPass while the pass is still going.
func (s *Scheduler) fire(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunPass(ctx); err != nil {
			switch {
			case errors.Is(err, ErrPassInProgress):
				s.svc.logger.Warn("previous pass still running, skipping firing")
			case errors.Is(err, ErrLockHeld):
				s.svc.logger.Warn("monitoring job locked elsewhere, skipping firing")
			default:
				s.svc.logger.Error("monitor pass failed", "error", err)
			}
		}
	}()
}

// RunPass performs one pass: every area is captured then compared. One
// area's failure never stops the others.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	var result PassResult
	err := s.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.runPass(ctx)
		return err
	})
	if errors.Is(err, ErrPassInProgress) || errors.Is(err, ErrLockHeld) {
		s.svc.recorder.PassSkipped()
	}
	return result, err
}

// Exclusive runs fn while this process holds the job lock, so manual
// captures and comparisons never race a scheduled pass. The lease is renewed
// in the background until fn returns; if a renewal fails, fn's context is
// cancelled and the returned error wraps ErrLeaseLost.
func (s *Scheduler) Exclusive(ctx context.Context, fn func(context.Context) error) (err error) {
	svc := s.svc
	if !s.running.CompareAndSwap(false, true) {
		return ErrPassInProgress
	}
	defer s.running.Store(false)

	acquired, err := svc.database.AcquireLock(ctx, s.opts.LockName, s.opts.HolderID, svc.clock.Now().UTC(), s.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("acquiring job lock: %w", err)
	}
	if !acquired {
		return ErrLockHeld
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		s.renewLease(leaseCtx, stop, cancel)
	}()

	defer func() {
		close(stop)
		<-renewed
		if cause := context.Cause(leaseCtx); errors.Is(cause, ErrLeaseLost) {
			err = errors.Join(err, cause)
		}
		cancel(nil)
		if rerr := svc.database.ReleaseLock(context.WithoutCancel(ctx), s.opts.LockName, s.opts.HolderID); rerr != nil {
			svc.logger.Error("releasing job lock failed", "error", rerr)
		}
	}()

	return fn(leaseCtx)
}

// renewLease extends the job lock every LockRenewInterval until stop closes.
// A failed or refused renewal cancels the lease context.
func (s *Scheduler) renewLease(ctx context.Context, stop <-chan struct{}, lost context.CancelCauseFunc) {
	svc := s.svc
	ticker := time.NewTicker(s.opts.LockRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := svc.database.AcquireLock(ctx, s.opts.LockName, s.opts.HolderID, svc.clock.Now().UTC(), s.opts.LockTTL)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			svc.logger.Error("renewing job lock failed", "holder", s.opts.HolderID, "error", err)
			lost(fmt.Errorf("%w: %w", ErrLeaseLost, err))
			return
		case !ok:
			svc.logger.Error("job lock taken over by another process", "holder", s.opts.HolderID)
			lost(ErrLeaseLost)
			return
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) (PassResult, error) {
	svc := s.svc
	start := svc.clock.Now().UTC()
	pass := &model.MonitorPass{
		ID:        svc.idgen.New(),
		StartedAt: start,
		Status:    model.PassRunning,
	}
	if err := svc.database.CreateMonitorPass(ctx, pass); err != nil {
		return PassResult{}, fmt.Errorf("recording monitor pass: %w", err)
	}
	svc.logger.Info("monitor pass started", "pass_id", pass.ID)

	result, runErr := s.runAreas(ctx, pass)

	finishedAt := svc.clock.Now().UTC()
	pass.FinishedAt.Time, pass.FinishedAt.Valid = finishedAt, true
	pass.Status = result.Status
	if err := svc.database.FinishMonitorPass(context.WithoutCancel(ctx), pass); err != nil {
		svc.logger.Error("finishing monitor pass failed", "pass_id", pass.ID, "error", err)
	}
	result.Elapsed = finishedAt.Sub(start)
	svc.recorder.PassFinished(result.Status, result.Elapsed)

	svc.logger.Info("monitor pass finished", "pass_id", pass.ID, "status", string(result.Status),
		"areas", result.AreasTotal, "failed", result.AreasFailed)
	return result, runErr
}

func (s *Scheduler) runAreas(ctx context.Context, pass *model.MonitorPass) (PassResult, error) {
	svc := s.svc
	result := PassResult{PassID: pass.ID}

	areas, err := svc.database.ListAreas(ctx)
	if err != nil {
		result.Status = model.PassError
		return result, fmt.Errorf("listing areas: %w", err)
	}
	result.AreasTotal = len(areas)
	pass.AreasTotal = int64(len(areas))

	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxConcurrentAreas)
	for i, area := range areas {
		if ctx.Err() != nil {
			unstarted := len(areas) - i
			failed.Add(int64(unstarted))
			svc.logger.Warn("pass interrupted", "pass_id", pass.ID, "areas_not_started", unstarted)
			break
		}
		g.Go(func() error {
			if err := s.runArea(ctx, area); err != nil {
				failed.Add(1)
				svc.logger.Error("area monitoring failed", "area_id", area.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.AreasFailed = int(failed.Load())
	pass.AreasFailed = int64(result.AreasFailed)
	if result.AreasFailed > 0 || ctx.Err() != nil {
		result.Status = model.PassPartial
	} else {
		result.Status = model.PassSuccess
	}
	return result, nil
}

func (s *Scheduler) runArea(ctx context.Context, area *model.AreaConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("area %s panicked: %v", area.ID, r)
		}
	}()
	_, _, err = s.svc.MonitorArea(ctx, area)
	return err
}
