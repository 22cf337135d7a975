// Package poll tracks one job until it reaches a terminal status and decodes
// the result payload.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/apperr"
	"github.com/dharsanguruparan/dropwatch/internal/jobs"
	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/model"
	"github.com/dharsanguruparan/dropwatch/internal/schedule"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 150
	DefaultMaxFailures = 10
)

// Progress texts shown while a job is still running.
const (
	ProgressQueued     = "Queued for processing..."
	ProgressProcessing = "Processing your files..."
)

// Options configures a Poller. Zero values fall back to the defaults.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	// MaxFailures is the number of consecutive failed status queries after
	// which the session is abandoned.
	MaxFailures int
	Logger      *zap.Logger
}

// Event is one observation of the job. Exactly one of Result and Err is set
// on a Final event; non-final events only carry progress.
type Event struct {
	Attempt  int
	Status   model.JobStatus
	Progress string
	Result   *model.NormalizedResult
	Err      error
	Final    bool
}

// Poller issues interval-gated status queries against a job store.
type Poller struct {
	store       jobs.Reader
	interval    time.Duration
	maxAttempts int
	maxFailures int
	log         *zap.Logger
}

// New returns a Poller reading from store.
func New(store jobs.Reader, opts Options) *Poller {
	p := &Poller{
		store:       store,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		maxFailures: opts.MaxFailures,
		log:         logger.OrNop(opts.Logger),
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.maxFailures <= 0 {
		p.maxFailures = DefaultMaxFailures
	}
	return p
}

// Session is a running poll loop for one job.
type Session struct {
	events  chan Event
	task    *schedule.Task
	stopped chan struct{}

	mu    sync.Mutex
	state model.PollSession
	ended bool
}

// Start begins polling jobID. delivered is consulted before every attempt;
// once it reports true the session stops without emitting anything, because
// the result already reached the user by another path. delivered may be nil.
//
// The session never outlives MaxAttempts*Interval of wall-clock time, even
// when status queries are slow: each query is bounded by the interval and the
// whole session by its deadline, which ends it with a poll timeout. The
// events channel is closed when the session ends.
func (p *Poller) Start(ctx context.Context, jobID string, delivered func() bool) *Session {
	s := &Session{
		events:  make(chan Event, 4),
		stopped: make(chan struct{}),
		state: model.PollSession{
			JobID:       jobID,
			MaxAttempts: p.maxAttempts,
			Interval:    p.interval,
			StartedAt:   time.Now(),
			Active:      true,
		},
	}
	log := p.log.With(zap.String("job_id", jobID))
	failures := 0
	deadlineCtx, cancelDeadline := context.WithDeadline(ctx, s.state.Deadline())

	s.task = schedule.Every(deadlineCtx, p.interval, func(ctx context.Context) bool {
		if delivered != nil && delivered() {
			log.Info("poll: result already delivered, stopping")
			s.markEnded()
			return false
		}
		attempt := s.nextAttempt()

		queryCtx, cancelQuery := context.WithTimeout(ctx, p.interval)
		job, err := p.store.Get(queryCtx, jobID)
		cancelQuery()
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			log.Warn("poll: job disappeared", zap.Int("attempt", attempt))
			s.emit(ctx, Event{Attempt: attempt, Err: apperr.New(apperr.KindJobNotFound, "", err), Final: true})
			return false
		case err != nil:
			if ctx.Err() != nil {
				return false
			}
			failures++
			log.Warn("poll: status query failed", zap.Int("attempt", attempt), zap.Int("consecutive_failures", failures), zap.Error(err))
			if failures >= p.maxFailures {
				s.emit(ctx, Event{Attempt: attempt, Err: apperr.New(apperr.KindPollQuery, "", err), Final: true})
				return false
			}
			return p.checkBudget(ctx, s, attempt, log)
		}
		failures = 0
		log.Debug("poll: status", zap.Int("attempt", attempt), zap.String("status", string(job.Status)))

		switch job.Status {
		case model.StatusCompleted:
			result, err := DecodeResult(job.ResultData, jobID)
			if err != nil {
				log.Error("poll: undecodable result", zap.Error(err))
				s.emit(ctx, Event{Attempt: attempt, Status: job.Status, Err: apperr.New(apperr.KindInvalidResult, "", err), Final: true})
				return false
			}
			s.emit(ctx, Event{Attempt: attempt, Status: job.Status, Result: &result, Final: true})
			return false
		case model.StatusError:
			msg := ""
			if job.ErrorMessage != nil {
				msg = *job.ErrorMessage
			}
			s.emit(ctx, Event{Attempt: attempt, Status: job.Status, Err: apperr.New(apperr.KindProcessing, msg, nil), Final: true})
			return false
		case model.StatusInProgress:
			if !s.emit(ctx, Event{Attempt: attempt, Status: job.Status, Progress: ProgressProcessing}) {
				return false
			}
		case model.StatusPending:
			if !s.emit(ctx, Event{Attempt: attempt, Status: job.Status, Progress: ProgressQueued}) {
				return false
			}
		default:
			log.Warn("poll: unknown status", zap.String("status", string(job.Status)))
		}
		return p.checkBudget(ctx, s, attempt, log)
	})

	go func() {
		defer close(s.stopped)
		<-s.task.Done()
		expired := errors.Is(deadlineCtx.Err(), context.DeadlineExceeded)
		cancelDeadline()

		s.mu.Lock()
		timedOut := expired && !s.ended
		attempt := s.state.Attempt
		s.mu.Unlock()
		if timedOut {
			log.Warn("poll: session deadline reached", zap.Int("attempts", attempt))
			s.emit(ctx, Event{Attempt: attempt, Err: apperr.New(apperr.KindPollTimeout, "", nil), Final: true})
		}

		s.mu.Lock()
		s.state.Active = false
		s.mu.Unlock()
		close(s.events)
	}()
	return s
}

// checkBudget ends the session once the attempt budget is spent.
func (p *Poller) checkBudget(ctx context.Context, s *Session, attempt int, log *zap.Logger) bool {
	if attempt < p.maxAttempts {
		return true
	}
	log.Warn("poll: attempt budget exhausted", zap.Int("attempts", attempt))
	s.emit(ctx, Event{Attempt: attempt, Err: apperr.New(apperr.KindPollTimeout, "", nil), Final: true})
	return false
}

func (s *Session) nextAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Attempt++
	return s.state.Attempt
}

func (s *Session) markEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// emit delivers ev unless ctx ends first and reports whether it was handed
// over. A delivered final event ends the session.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		if ev.Final {
			s.markEnded()
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// Events streams observations. The channel is closed when the session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Cancel stops the session and releases its timer.
func (s *Session) Cancel() {
	s.task.Cancel()
}

// Wait blocks until the session has stopped and its events channel is
// closed.
func (s *Session) Wait() {
	<-s.stopped
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() model.PollSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
