package widget

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dropwatch/internal/apperr"
	"github.com/dharsanguruparan/dropwatch/internal/jobs"
	"github.com/dharsanguruparan/dropwatch/internal/locate"
	"github.com/dharsanguruparan/dropwatch/internal/model"
	"github.com/dharsanguruparan/dropwatch/internal/poll"
	"github.com/dharsanguruparan/dropwatch/internal/upload"
)

const (
	user   = "anon_abc123xyz"
	widget = "compress"
)

type recordingUI struct {
	mu         sync.Mutex
	progress   []string
	results    []model.NormalizedResult
	errors     []string
	resets     int
	onProgress func(text string)
}

func (u *recordingUI) OnProgress(text string) {
	u.mu.Lock()
	u.progress = append(u.progress, text)
	hook := u.onProgress
	u.mu.Unlock()
	if hook != nil {
		hook(text)
	}
}

func (u *recordingUI) OnResult(r model.NormalizedResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results = append(u.results, r)
}

func (u *recordingUI) OnError(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, msg)
}

func (u *recordingUI) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resets++
}

func (u *recordingUI) snapshot() (progress []string, results []model.NormalizedResult, errs []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.progress...), append([]model.NormalizedResult(nil), u.results...), append([]string(nil), u.errors...)
}

type fakeUploader struct {
	err   error
	calls int
}

func (f *fakeUploader) Upload(_ context.Context, files []upload.FileBlob) ([]model.UploadedFile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.UploadedFile, 0, len(files))
	for _, file := range files {
		out = append(out, model.UploadedFile{
			StorageKey:   "uploads/" + user + "/1714564800000_" + file.Name,
			OriginalName: file.Name,
			MimeType:     file.MimeType,
			SizeBytes:    uint64(file.Size),
			UploadedAt:   time.Now(),
		})
	}
	return out, nil
}

type fakeLocator struct {
	mu     sync.Mutex
	calls  int
	before func(call int)
	match  func(call int) (model.MatchCandidate, bool)
}

func (f *fakeLocator) Locate(context.Context, []model.UploadedFile, string, string) (model.MatchCandidate, bool) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.before != nil {
		f.before(call)
	}
	if f.match != nil {
		return f.match(call)
	}
	return model.MatchCandidate{}, false
}

func (f *fakeLocator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingStore counts status queries made by the poller.
type countingStore struct {
	*jobs.MemoryStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, id)
}

func files() []upload.FileBlob {
	return []upload.FileBlob{upload.BytesBlob("report.pdf", "application/pdf", []byte("%PDF-1.7"))}
}

func fastOptions() Options {
	return Options{
		UserID:           user,
		WidgetID:         widget,
		PropagationDelay: time.Millisecond,
		RelocateDelay:    time.Millisecond,
	}
}

func fastPoller(store jobs.Reader) *poll.Poller {
	return poll.New(store, poll.Options{Interval: 2 * time.Millisecond, MaxAttempts: 2000, MaxFailures: 3})
}

func saveJob(store *jobs.MemoryStore, status model.JobStatus, result string) {
	store.Save(model.JobRecord{
		ID:         "job-1",
		UserID:     user,
		WidgetID:   widget,
		CreatedAt:  time.Now(),
		Status:     status,
		FileKeys:   model.FileKeys{"uploads/" + user + "/1714564799000_report.pdf"},
		ResultData: json.RawMessage(result),
	})
}

func TestHandleFilesSuccess(t *testing.T) {
	store := jobs.NewMemoryStore()
	saveJob(store, model.StatusPending, "")
	ui := &recordingUI{}
	ui.onProgress = func(text string) {
		if text == poll.ProgressQueued {
			assert.NoError(t, store.UpdateStatus("job-1", model.StatusCompleted, []byte(`{"kind":"success","headline":"Done"}`), ""))
		}
	}

	w := New(fastOptions(), Deps{
		Uploader: &fakeUploader{},
		Locator:  locate.New(store),
		Poller:   fastPoller(store),
		UI:       ui,
	})
	defer w.Close()

	require.NoError(t, w.HandleFiles(context.Background(), files()))

	progress, results, errs := ui.snapshot()
	require.GreaterOrEqual(t, len(progress), 3)
	assert.Equal(t, []string{ProgressUploading, ProgressUploaded, poll.ProgressQueued}, progress[:3])
	assert.Equal(t, []model.NormalizedResult{{Kind: "success", Headline: "Done"}}, results)
	assert.Empty(t, errs)
	assert.Equal(t, 1, ui.resets)
	assert.True(t, w.Shown())
}

func TestHandleFilesLocateTimeoutFiresOnce(t *testing.T) {
	ui := &recordingUI{}
	loc := &fakeLocator{}
	w := New(fastOptions(), Deps{
		Uploader: &fakeUploader{},
		Locator:  loc,
		Poller:   fastPoller(jobs.NewMemoryStore()),
		UI:       ui,
	})
	defer w.Close()

	err := w.HandleFiles(context.Background(), files())
	assert.ErrorIs(t, err, apperr.ErrJobLocateTimeout)

	_, results, errs := ui.snapshot()
	assert.Equal(t, []string{"Processing timeout - job not found, please try again"}, errs)
	assert.Empty(t, results)
	assert.Equal(t, 2, loc.Calls())
}

func TestHandleFilesWaitsBeforeEachLocate(t *testing.T) {
	loc := &fakeLocator{}
	opts := fastOptions()
	opts.PropagationDelay = 30 * time.Millisecond
	opts.RelocateDelay = 40 * time.Millisecond
	w := New(opts, Deps{Uploader: &fakeUploader{}, Locator: loc, Poller: fastPoller(jobs.NewMemoryStore()), UI: &recordingUI{}})
	defer w.Close()

	start := time.Now()
	_ = w.HandleFiles(context.Background(), files())
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestOutOfBandResultSuppressesLocateTimeout(t *testing.T) {
	ui := &recordingUI{}
	loc := &fakeLocator{}
	w := New(fastOptions(), Deps{
		Uploader: &fakeUploader{},
		Locator:  loc,
		Poller:   fastPoller(jobs.NewMemoryStore()),
		UI:       ui,
	})
	defer w.Close()
	loc.before = func(call int) {
		if call == 1 {
			require.NoError(t, w.DeliverExternal(json.RawMessage(`{"webhook-job":{"status":"completed","result_data":"{\"kind\":\"success\"}"}}`)))
		}
	}

	require.NoError(t, w.HandleFiles(context.Background(), files()))

	_, results, errs := ui.snapshot()
	assert.Equal(t, []model.NormalizedResult{{Kind: "success"}}, results)
	assert.Empty(t, errs)
}

func TestOutOfBandResultHaltsPolling(t *testing.T) {
	store := &countingStore{MemoryStore: jobs.NewMemoryStore()}
	saveJob(store.MemoryStore, model.StatusInProgress, "")
	ui := &recordingUI{}
	w := New(fastOptions(), Deps{
		Uploader: &fakeUploader{},
		Locator:  locate.New(store),
		Poller:   fastPoller(store),
		UI:       ui,
	})
	defer w.Close()

	var once sync.Once
	ui.onProgress = func(text string) {
		if text == poll.ProgressProcessing {
			once.Do(func() {
				assert.NoError(t, w.DeliverExternal(json.RawMessage(`{"kind":"success","text":"pushed"}`)))
			})
		}
	}

	done := make(chan error, 1)
	go func() { done <- w.HandleFiles(context.Background(), files()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("HandleFiles did not return after the out-of-band result")
	}

	gets := store.gets.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, gets, store.gets.Load(), "poller kept querying")

	_, results, errs := ui.snapshot()
	assert.Equal(t, []model.NormalizedResult{{Kind: "success", Text: "pushed"}}, results)
	assert.Empty(t, errs)
}

func TestHandleFilesUploadError(t *testing.T) {
	ui := &recordingUI{}
	loc := &fakeLocator{}
	uploadErr := &apperr.UploadError{Stage: apperr.StagePresign, Index: 0, FileName: "report.pdf", Message: "Presign failed: 402 quota exceeded"}
	w := New(fastOptions(), Deps{
		Uploader: &fakeUploader{err: uploadErr},
		Locator:  loc,
		Poller:   fastPoller(jobs.NewMemoryStore()),
		UI:       ui,
	})
	defer w.Close()

	err := w.HandleFiles(context.Background(), files())
	assert.ErrorIs(t, err, apperr.ErrUpload)

	progress, _, errs := ui.snapshot()
	assert.Equal(t, []string{ProgressUploading}, progress)
	assert.Equal(t, []string{"Presign failed: 402 quota exceeded"}, errs)
	assert.Zero(t, loc.Calls())
}

func TestHandleFilesProcessingError(t *testing.T) {
	store := jobs.NewMemoryStore()
	saveJob(store, model.StatusPending, "")
	require.NoError(t, store.UpdateStatus("job-1", model.StatusError, nil, "Unsupported file type"))
	ui := &recordingUI{}
	w := New(fastOptions(), Deps{
		Uploader: &fakeUploader{},
		Locator:  locate.New(store),
		Poller:   fastPoller(store),
		UI:       ui,
	})
	defer w.Close()

	err := w.HandleFiles(context.Background(), files())
	assert.ErrorIs(t, err, apperr.ErrProcessing)

	_, results, errs := ui.snapshot()
	assert.Empty(t, results)
	assert.Equal(t, []string{"Unsupported file type"}, errs)
}

func TestHandleFilesEmptyBatch(t *testing.T) {
	ui := &recordingUI{}
	up := &fakeUploader{}
	w := New(fastOptions(), Deps{Uploader: up, Locator: &fakeLocator{}, Poller: fastPoller(jobs.NewMemoryStore()), UI: ui})
	defer w.Close()

	require.NoError(t, w.HandleFiles(context.Background(), nil))
	assert.Zero(t, up.calls)
	assert.Zero(t, ui.resets)
}

func TestCloseCancelsPendingDelay(t *testing.T) {
	ui := &recordingUI{}
	loc := &fakeLocator{}
	opts := fastOptions()
	opts.PropagationDelay = time.Hour
	w := New(opts, Deps{Uploader: &fakeUploader{}, Locator: loc, Poller: fastPoller(jobs.NewMemoryStore()), UI: ui})

	done := make(chan error, 1)
	go func() { done <- w.HandleFiles(context.Background(), files()) }()
	time.Sleep(10 * time.Millisecond)
	w.Close()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the propagation delay")
	}
	_, _, errs := ui.snapshot()
	assert.Empty(t, errs)
	assert.Zero(t, loc.Calls())
}

func TestCallerContextCancels(t *testing.T) {
	opts := fastOptions()
	opts.PropagationDelay = time.Hour
	w := New(opts, Deps{Uploader: &fakeUploader{}, Locator: &fakeLocator{}, Poller: fastPoller(jobs.NewMemoryStore()), UI: &recordingUI{}})
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := w.HandleFiles(ctx, files())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeliverExternalRejectsBadPayload(t *testing.T) {
	ui := &recordingUI{}
	w := New(fastOptions(), Deps{Uploader: &fakeUploader{}, Locator: &fakeLocator{}, Poller: fastPoller(jobs.NewMemoryStore()), UI: ui})
	defer w.Close()

	err := w.DeliverExternal(json.RawMessage(`"not json"`))
	assert.ErrorIs(t, err, apperr.ErrInvalidResultFormat)
	_, results, errs := ui.snapshot()
	assert.Empty(t, results)
	assert.Empty(t, errs)
	assert.False(t, w.Shown())
}

func TestDeliverExternalShowsOnce(t *testing.T) {
	ui := &recordingUI{}
	w := New(fastOptions(), Deps{Uploader: &fakeUploader{}, Locator: &fakeLocator{}, Poller: fastPoller(jobs.NewMemoryStore()), UI: ui})
	defer w.Close()

	require.NoError(t, w.DeliverExternal(json.RawMessage(`{"kind":"first"}`)))
	require.NoError(t, w.DeliverExternal(json.RawMessage(`{"kind":"second"}`)))

	_, results, _ := ui.snapshot()
	assert.Equal(t, []model.NormalizedResult{{Kind: "first"}}, results)
}

func TestWidgetsAreIndependent(t *testing.T) {
	uiA, uiB := &recordingUI{}, &recordingUI{}
	a := New(fastOptions(), Deps{Uploader: &fakeUploader{}, Locator: &fakeLocator{}, Poller: fastPoller(jobs.NewMemoryStore()), UI: uiA})
	b := New(fastOptions(), Deps{Uploader: &fakeUploader{}, Locator: &fakeLocator{}, Poller: fastPoller(jobs.NewMemoryStore()), UI: uiB})
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.DeliverExternal(json.RawMessage(`{"kind":"a"}`)))
	assert.True(t, a.Shown())
	assert.False(t, b.Shown())

	_, resultsB, _ := uiB.snapshot()
	assert.Empty(t, resultsB)
}
