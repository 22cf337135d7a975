// Package widget sequences one drop of files: upload, wait for the trigger,
// locate the job, then poll it and report to the UI. Each Widget is
// independent; create one per embedded widget and Close it on teardown.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/apperr"
	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/model"
	"github.com/dharsanguruparan/dropwatch/internal/poll"
	"github.com/dharsanguruparan/dropwatch/internal/schedule"
	"github.com/dharsanguruparan/dropwatch/internal/upload"
)

const (
	ProgressUploading = "Uploading files..."
	ProgressUploaded  = "Upload complete - starting processing..."
)

// UI receives everything the widget has to show.
type UI interface {
	OnProgress(text string)
	OnResult(result model.NormalizedResult)
	OnError(message string)
}

// Resetter is implemented by UIs that clear previous output when a new
// batch starts.
type Resetter interface {
	Reset()
}

type Uploader interface {
	Upload(ctx context.Context, files []upload.FileBlob) ([]model.UploadedFile, error)
}

type Locator interface {
	Locate(ctx context.Context, batch []model.UploadedFile, userID, widgetID string) (model.MatchCandidate, bool)
}

type Poller interface {
	Start(ctx context.Context, jobID string, delivered func() bool) *poll.Session
}

// Options identifies the widget and sets the delays around locating.
type Options struct {
	UserID           string
	WidgetID         string
	PropagationDelay time.Duration
	RelocateDelay    time.Duration
}

// Deps are the collaborators a Widget drives.
type Deps struct {
	Uploader Uploader
	Locator  Locator
	Poller   Poller
	UI       UI
	Logger   *zap.Logger
}

// Widget runs batches for one widget instance. A new HandleFiles call
// supersedes the batch in flight.
type Widget struct {
	opts Options
	deps Deps
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	gen       uint64
	shown     bool
	failed    bool
	jobID     string
	runCancel context.CancelFunc
	session   *poll.Session
}

// New returns a Widget. Call Close when the widget goes away.
func New(opts Options, deps Deps) *Widget {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.OrNop(deps.Logger).With(zap.String("widget_id", opts.WidgetID), zap.String("user_id", opts.UserID))
	return &Widget{opts: opts, deps: deps, log: log, ctx: ctx, cancel: cancel}
}

// Close cancels pending delays and any running poll session.
func (w *Widget) Close() {
	w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runCancel != nil {
		w.runCancel()
	}
	if w.session != nil {
		w.session.Cancel()
	}
}

// Shown reports whether a result has been delivered for the current batch,
// by the poller or by an out-of-band source.
func (w *Widget) Shown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shown
}

// HandleFiles runs one batch to completion. The returned error is the one
// reported to the UI, or nil when a result was shown or the batch was
// superseded. An empty batch does nothing.
func (w *Widget) HandleFiles(ctx context.Context, files []upload.FileBlob) error {
	if len(files) == 0 {
		return nil
	}
	ctx, gen, done := w.begin(ctx)
	defer done()
	log := w.log.With(zap.Uint64("batch", gen))

	w.progress(gen, ProgressUploading)
	batch, err := w.deps.Uploader.Upload(ctx, files)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("upload failed", zap.Error(err))
		return w.fail(gen, err)
	}
	log.Info("batch uploaded", zap.Strings("keys", model.StorageKeys(batch)))
	w.progress(gen, ProgressUploaded)

	if err := schedule.Sleep(ctx, w.opts.PropagationDelay); err != nil {
		return err
	}
	match, found := w.deps.Locator.Locate(ctx, batch, w.opts.UserID, w.opts.WidgetID)
	if !found {
		log.Info("job not found yet, retrying", zap.Duration("delay", w.opts.RelocateDelay))
		if err := schedule.Sleep(ctx, w.opts.RelocateDelay); err != nil {
			return err
		}
		match, found = w.deps.Locator.Locate(ctx, batch, w.opts.UserID, w.opts.WidgetID)
	}
	if !found {
		if w.Shown() {
			log.Info("job not found but a result was already shown")
			return nil
		}
		return w.fail(gen, apperr.ErrJobLocateTimeout)
	}

	log.Info("job located", zap.String("job_id", match.Job.ID), zap.String("strength", string(match.Strength)))
	session, ok := w.startPoll(ctx, gen, match.Job.ID)
	if !ok {
		return ctx.Err()
	}
	for ev := range session.Events() {
		if !ev.Final {
			w.progress(gen, ev.Progress)
			continue
		}
		if ev.Result != nil {
			w.deliver(gen, *ev.Result)
			return nil
		}
		return w.fail(gen, ev.Err)
	}
	// Closed without a final event: superseded by an out-of-band result or
	// cancelled.
	if err := ctx.Err(); err != nil && !w.Shown() {
		return err
	}
	return nil
}

// DeliverExternal shows a result that arrived outside the poll loop, such as
// from a webhook or the message bus. The payload may take any shape the
// poller accepts. The running poll session stops on its next tick.
func (w *Widget) DeliverExternal(raw json.RawMessage) error {
	w.mu.Lock()
	gen, jobID := w.gen, w.jobID
	w.mu.Unlock()

	result, err := poll.DecodeResult(raw, jobID)
	if err != nil {
		return apperr.New(apperr.KindInvalidResult, "", err)
	}
	if !w.deliver(gen, result) {
		w.log.Debug("out-of-band result ignored, one is already shown")
	}
	return nil
}

func (w *Widget) begin(parent context.Context) (context.Context, uint64, func()) {
	ctx, cancel := context.WithCancel(w.ctx)
	stop := context.AfterFunc(parent, cancel)

	w.mu.Lock()
	if w.runCancel != nil {
		w.runCancel()
	}
	if w.session != nil {
		w.session.Cancel()
		w.session = nil
	}
	w.gen++
	gen := w.gen
	w.shown = false
	w.failed = false
	w.jobID = ""
	w.runCancel = cancel
	w.mu.Unlock()

	if r, ok := w.deps.UI.(Resetter); ok {
		r.Reset()
	}
	return ctx, gen, func() {
		stop()
		cancel()
	}
}

func (w *Widget) startPoll(ctx context.Context, gen uint64, jobID string) (*poll.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen || ctx.Err() != nil {
		return nil, false
	}
	w.jobID = jobID
	w.session = w.deps.Poller.Start(ctx, jobID, w.Shown)
	return w.session, true
}

func (w *Widget) progress(gen uint64, text string) {
	if text == "" {
		return
	}
	w.mu.Lock()
	current := gen == w.gen && !w.shown && !w.failed
	w.mu.Unlock()
	if current {
		w.deps.UI.OnProgress(text)
	}
}

// deliver shows result once per batch.
func (w *Widget) deliver(gen uint64, result model.NormalizedResult) bool {
	w.mu.Lock()
	if gen != w.gen || w.shown {
		w.mu.Unlock()
		return false
	}
	w.shown = true
	w.mu.Unlock()

	w.log.Info("result delivered", zap.String("kind", result.Kind))
	w.deps.UI.OnResult(result)
	return true
}

// fail reports err unless a result is already shown or an error was
// already reported for this batch. A shown result wins: fail then returns
// nil.
func (w *Widget) fail(gen uint64, err error) error {
	if err == nil {
		err = errors.New("poll session ended without a result")
	}
	w.mu.Lock()
	shown := gen == w.gen && w.shown
	report := gen == w.gen && !w.shown && !w.failed
	if report {
		w.failed = true
	}
	w.mu.Unlock()

	if shown {
		w.log.Info("error suppressed, a result is already shown", zap.Error(err))
		return nil
	}
	if !report {
		w.log.Debug("error suppressed", zap.Error(err))
		return err
	}
	w.log.Warn("batch failed", zap.Error(err))
	w.deps.UI.OnError(apperr.Message(err))
	return err
}
