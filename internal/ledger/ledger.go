// Package ledger tracks how many transformations were made today and gates
// new ones against a daily limit.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timewarp-studio/timewarp/internal/kv"
	"github.com/timewarp-studio/timewarp/internal/logging"
)

const (
	DefaultLimit = 5
	DefaultKey   = "timeWarpUsage"
	dateLayout   = "2006-01-02"
)

var ErrQuotaExceeded = errors.New("daily transformation limit reached")

// Record is the persisted usage for one calendar day.
type Record struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Ledger struct {
	mu    sync.Mutex
	store kv.Store
	limit int
	key   string
	now   func() time.Time
	log   logrus.FieldLogger
}

type Option func(*Ledger)

func WithLimit(limit int) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

func WithKey(key string) Option {
	return func(l *Ledger) {
		if key != "" {
			l.key = key
		}
	}
}

// WithClock replaces time.Now. "Today" is the clock's local calendar date.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

func New(store kv.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		limit: DefaultLimit,
		key:   DefaultKey,
		now:   time.Now,
		log:   logging.Log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Limit() int {
	return l.limit
}

func (l *Ledger) today() string {
	return l.now().Format(dateLayout)
}

// Remaining returns how many transformations are left today. It never fails:
// unreadable or corrupt state counts as a fresh day.
func (l *Ledger) Remaining(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.todayCount(ctx)
	if err != nil {
		logging.Event(l.log, "USAGE_READ_ERROR").WithError(err).Warn("failed to read usage record, assuming none")
	}
	remaining := max(0, l.limit-count)
	logging.Event(l.log, "USAGE_CHECK").WithField("remaining", remaining).Debug("usage checked for today")
	return remaining
}

func (l *Ledger) Allowed(ctx context.Context) bool {
	return l.Remaining(ctx) > 0
}

// RecordSuccess charges one transformation to today and returns the new
// remaining count. Callers invoke it once per transformation that produced
// at least one image.
func (l *Ledger) RecordSuccess(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.todayCount(ctx)
	if err != nil {
		logging.Event(l.log, "USAGE_READ_ERROR").WithError(err).Error("failed to read usage record, not charging")
		return 0, fmt.Errorf("failed to read usage record: %w", err)
	}

	rec := Record{Date: l.today(), Count: count + 1}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode usage record: %w", err)
	}
	if err := l.store.Set(ctx, l.key, data); err != nil {
		logging.Event(l.log, "USAGE_WRITE_ERROR").WithError(err).Error("failed to persist usage record")
		return 0, fmt.Errorf("failed to save usage record: %w", err)
	}

	remaining := max(0, l.limit-rec.Count)
	logging.Event(l.log, "USAGE_RECORDED").WithFields(logrus.Fields{
		"count":     rec.Count,
		"remaining": remaining,
	}).Info("transformation charged to today's usage")
	return remaining, nil
}

// Reset deletes the stored record, giving back the full daily limit.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	logging.Event(l.log, "USAGE_RESET").Info("usage record deleted")
	return nil
}

// todayCount reads today's count. Absent, stale and corrupt records read as
// zero and corrupt ones are purged. A storage read error is returned with a
// zero count. Caller holds mu.
func (l *Ledger) todayCount(ctx context.Context) (int, error) {
	data, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || !rec.valid() {
		logging.Event(l.log, "USAGE_PARSE_ERROR").WithError(err).Warn("corrupt usage record, purging")
		if derr := l.store.Delete(ctx, l.key); derr != nil {
			logging.Event(l.log, "USAGE_PURGE_ERROR").WithError(derr).Warn("failed to purge usage record")
		}
		return 0, nil
	}

	if rec.Date != l.today() {
		logging.Event(l.log, "USAGE_RESET").WithField("stored_date", rec.Date).Debug("usage record is from another day")
		return 0, nil
	}
	return rec.Count, nil
}

func (r Record) valid() bool {
	if r.Count < 0 {
		return false
	}
	_, err := time.Parse(dateLayout, r.Date)
	return err == nil
}
