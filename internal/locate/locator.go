// Package locate correlates an upload batch with the job record the
// server-side trigger created for it. There is no shared transaction id, so
// matching is best effort: file names first, then job age, then the most
// recent job if it was created close to the upload.
package locate

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/dropwatch/internal/jobs"
	"github.com/dharsanguruparan/dropwatch/internal/logger"
	"github.com/dharsanguruparan/dropwatch/internal/model"
)

const (
	DefaultLimit        = 5
	DefaultMatchWindow  = 60 * time.Second
	DefaultFallbackLead = 10 * time.Second
)

var timestampPrefix = regexp.MustCompile(`^\d+_`)

// Locator finds the job for an upload batch.
type Locator struct {
	store        jobs.Reader
	limit        int
	matchWindow  time.Duration
	fallbackLead time.Duration
	now          func() time.Time
	log          *zap.Logger
}

// Option customizes a Locator.
type Option func(*Locator)

// WithLimit bounds how many recent jobs are fetched per lookup.
func WithLimit(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithMatchWindow sets the age under which an unmatched job is accepted, and
// the upper bound of the most-recent fallback.
func WithMatchWindow(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.matchWindow = d
		}
	}
}

// WithFallbackLead sets how long before upload completion a job may have
// been created and still be accepted by the most-recent fallback.
func WithFallbackLead(d time.Duration) Option {
	return func(l *Locator) {
		if d >= 0 {
			l.fallbackLead = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Locator) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Locator) {
		l.log = logger.OrNop(log)
	}
}

// New returns a Locator reading from store.
func New(store jobs.Reader, opts ...Option) *Locator {
	l := &Locator{
		store:        store,
		limit:        DefaultLimit,
		matchWindow:  DefaultMatchWindow,
		fallbackLead: DefaultFallbackLead,
		now:          time.Now,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the job correlated with batch. A failed query is logged and
// reported as not found; the caller decides whether to try again.
//
// The passes run in order and each one walks the jobs newest first, so the
// first job to score in the earliest pass wins.
func (l *Locator) Locate(ctx context.Context, batch []model.UploadedFile, userID, widgetID string) (model.MatchCandidate, bool) {
	log := l.log.With(zap.String("user_id", userID), zap.String("widget_id", widgetID))

	recent, err := l.store.Recent(ctx, userID, widgetID, l.limit)
	if err != nil {
		log.Warn("locate: job query failed", zap.Error(err))
		return model.MatchCandidate{}, false
	}
	if len(recent) == 0 {
		log.Debug("locate: no jobs yet")
		return model.MatchCandidate{}, false
	}

	uploaded := make([]string, 0, len(batch))
	for _, f := range batch {
		if name := NormalizeKey(f.StorageKey); name != "" {
			uploaded = append(uploaded, name)
		}
	}

	for _, job := range recent {
		if strength := matchFiles(uploaded, job.FileKeys); strength != model.MatchNone {
			log.Info("locate: matched by file key", zap.String("job_id", job.ID), zap.String("strength", string(strength)))
			return model.MatchCandidate{Job: job, Strength: strength}, true
		}
	}

	now := l.now()
	for _, job := range recent {
		if now.Sub(job.CreatedAt) < l.matchWindow {
			log.Info("locate: matched by job age", zap.String("job_id", job.ID), zap.Duration("age", now.Sub(job.CreatedAt)))
			return model.MatchCandidate{Job: job, Strength: model.MatchTimeWindow}, true
		}
	}

	newest := recent[0]
	if completed := model.CompletedAt(batch); !completed.IsZero() {
		offset := newest.CreatedAt.Sub(completed)
		if offset >= -l.fallbackLead && offset <= l.matchWindow {
			log.Info("locate: using most recent job", zap.String("job_id", newest.ID), zap.Duration("offset", offset))
			return model.MatchCandidate{Job: newest, Strength: model.MatchMostRecentFallback}, true
		}
	}

	log.Debug("locate: no candidate", zap.Int("jobs", len(recent)))
	return model.MatchCandidate{}, false
}

// NormalizeKey reduces a storage key to its base name with one leading
// "<digits>_" upload timestamp removed.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	base := path.Base(key)
	if base == "." || base == "/" {
		return ""
	}
	return timestampPrefix.ReplaceAllString(base, "")
}

func matchFiles(uploaded []string, jobKeys model.FileKeys) model.MatchStrength {
	best := model.MatchNone
	for _, key := range jobKeys {
		candidate := NormalizeKey(key)
		if candidate == "" {
			continue
		}
		for _, name := range uploaded {
			switch compareNames(name, candidate) {
			case model.MatchExact:
				return model.MatchExact
			case model.MatchHeuristicFilename:
				best = model.MatchHeuristicFilename
			}
		}
	}
	return best
}

// compareNames scores two normalized names. Names that are not identical
// still match when the longer one starts with the stem of the shorter followed
// by a separator, which covers renamed outputs such as "report_compressed.pdf". A stray prefix
// like "a17000_report.pdf" does not match "report.pdf".
func compareNames(a, b string) model.MatchStrength {
	if a == b {
		return model.MatchExact
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	stem := strings.TrimSuffix(short, path.Ext(short))
	if stem == "" {
		return model.MatchNone
	}
	if !strings.HasPrefix(long, stem) {
		return model.MatchNone
	}
	if rest := long[len(stem):]; rest != "" {
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsLetter(r) || unicode.IsDigit(r) {
			return model.MatchNone
		}
	}
	return model.MatchHeuristicFilename
}
