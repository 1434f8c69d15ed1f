// Package orchestrator runs a transformation end to end: quota check,
// concurrent generation of every variant with one fallback round,
// watermarking and the single ledger charge.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/timewarp-studio/timewarp/internal/ledger"
	"github.com/timewarp-studio/timewarp/internal/logging"
	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

const (
	DefaultVariants = 3
	MaxVariants     = 10

	// PlaceholderStyle stands in when an era has no styles for the language.
	PlaceholderStyle = "Default Style"
	// GenericFallbackStyle is retried when the era offers no other style.
	GenericFallbackStyle = "Era-appropriate attire"
)

type Ledger interface {
	Remaining(ctx context.Context) int
	RecordSuccess(ctx context.Context) (int, error)
	Limit() int
}

type PromptBuilder interface {
	Build(era *models.Era, style string, opts models.TransformationOptions, lang models.Language) string
}

type Stamper interface {
	Stamp(img *models.Image) (*models.Image, error)
}

// StateObserver is called on every state change, from the goroutine running
// Transform.
type StateObserver func(sessionID string, state State)

type Deps struct {
	Ledger    Ledger
	Prompts   PromptBuilder
	Generator provider.Generator
	Stamper   Stamper
}

type Request struct {
	Source   *models.Image
	Era      *models.Era
	Language models.Language
	Options  models.TransformationOptions
}

func (r *Request) validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := r.Source.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Era == nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, models.ErrNoEra)
	}
	return nil
}

type Orchestrator struct {
	deps     Deps
	variants int
	log      logrus.FieldLogger
	observer StateObserver

	// mu serializes transformations from quota check to commit.
	mu    sync.Mutex
	epoch atomic.Uint64

	// commitMu makes the staleness check and the ledger charge one step
	// with respect to Restart's epoch bump.
	commitMu sync.Mutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

type Option func(*Orchestrator)

// WithVariants sets how many styles are attempted per transformation.
func WithVariants(k int) Option {
	return func(o *Orchestrator) {
		if k >= 1 && k <= MaxVariants {
			o.variants = k
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func WithObserver(fn StateObserver) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:     deps,
		variants: DefaultVariants,
		log:      logging.Log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Variants() int {
	return o.variants
}

// Remaining is today's remaining quota for the presentation layer.
func (o *Orchestrator) Remaining(ctx context.Context) int {
	return o.deps.Ledger.Remaining(ctx)
}

// Restart abandons any in-flight transformation. Its late results are
// dropped and it will not charge the ledger.
func (o *Orchestrator) Restart() {
	o.commitMu.Lock()
	o.epoch.Add(1)
	o.commitMu.Unlock()

	o.cancelMu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.cancelMu.Unlock()

	logging.Event(o.log, "TRANSFORMATION_RESTART").Info("in-flight transformation abandoned")
}

// Transform runs one transformation. On success the session carries the
// watermarked results in variant order. User-facing failures come back as
// *Failure alongside the terminal session; ErrAbandoned means the session
// was superseded and has no result.
func (o *Orchestrator) Transform(ctx context.Context, req *Request) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbandoned, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.setCancel(cancel)
	defer o.setCancel(nil)

	sess := &Session{
		ID:        uuid.New().String(),
		Era:       req.Era,
		Language:  req.Language,
		Options:   req.Options,
		StartedAt: time.Now(),
		epoch:     o.epoch.Load(),
	}
	log := o.log.WithFields(logrus.Fields{"session": sess.ID, "era": req.Era.ID})

	o.transition(sess, StateQuotaCheck)
	remaining := o.deps.Ledger.Remaining(ctx)
	if remaining <= 0 {
		sess.Remaining = 0
		logging.Event(log, "LIMIT_REACHED").Warn("transformation attempted with the daily limit reached")
		return o.fail(sess, StateRejectedLimit, &Failure{
			Kind:  KindLimitReached,
			Err:   ledger.ErrQuotaExceeded,
			Limit: o.deps.Ledger.Limit(),
		})
	}

	styles := variantStyles(req.Era, req.Language, o.variants)
	logging.Event(log, "TRANSFORMATION_START").WithFields(logrus.Fields{
		"styles":    styles,
		"remaining": remaining,
	}).Info("starting transformation")

	o.transition(sess, StateGenerating)
	sess.Variants = o.generate(ctx, req, styles, AttemptPrimary, 0)
	if o.stale(ctx, sess) {
		return o.abandon(log)
	}

	if countOutcome(sess.Variants, OutcomeImage) == 0 {
		fallback := fallbackStyle(req.Era, req.Language, styles)
		logging.Event(log, "TRANSFORMATION_RETRY").WithFields(logrus.Fields{
			"attempted": styles,
			"fallback":  fallback,
		}).Warn("no image from any variant, retrying with a fallback style")

		o.transition(sess, StatePartialRetry)
		o.transition(sess, StateGeneratingFallback)
		sess.Variants = append(sess.Variants, o.generate(ctx, req, []string{fallback}, AttemptFallback, len(sess.Variants))...)
		if o.stale(ctx, sess) {
			return o.abandon(log)
		}
	}

	raw := successes(sess.Variants)
	if len(raw) == 0 {
		sess.Remaining = remaining
		if err := firstError(sess.Variants); err != nil {
			logging.Event(log, "TRANSFORMATION_ERROR").WithError(err).Error("generation failed")
			return o.fail(sess, StateFailureError, &Failure{Kind: KindUnknown, Err: err})
		}
		logging.Event(log, "TRANSFORMATION_NO_IMAGE").Warn("no variant produced an image")
		return o.fail(sess, StateFailureNoImage, &Failure{Kind: KindNoImage, Err: ErrNoImageProduced})
	}

	results, stampErr := o.stampAll(log, sess, raw)
	if len(results) == 0 {
		sess.Remaining = remaining
		err := fmt.Errorf("%w: %w", ErrAllStampsFailed, stampErr)
		logging.Event(log, "TRANSFORMATION_ERROR").WithError(err).Error("no image survived watermarking")
		return o.fail(sess, StateFailureError, &Failure{Kind: KindUnknown, Err: err})
	}

	left, ok, err := o.commit(ctx, sess)
	if !ok {
		return o.abandon(log)
	}
	if err != nil {
		logging.Event(log, "USAGE_WRITE_ERROR").WithError(err).Error("images delivered but usage could not be recorded")
		left = o.deps.Ledger.Remaining(ctx)
	}

	sess.Results = results
	sess.Remaining = left
	sess.Kind = KindNone
	sess.FinishedAt = time.Now()
	o.transition(sess, StateSuccess)

	logging.Event(log, "TRANSFORMATION_SUCCESS").WithFields(logrus.Fields{
		"images":    len(results),
		"fallback":  sess.UsedFallback(),
		"remaining": left,
	}).Info("transformation complete")
	return sess, nil
}

// generate runs one call per style concurrently and waits for all of them.
// Each task writes only its own slot, so results stay in style order no
// matter which call finishes first.
func (o *Orchestrator) generate(ctx context.Context, req *Request, styles []string, attempt Attempt, offset int) []Variant {
	variants := make([]Variant, len(styles))

	var g errgroup.Group
	for i, style := range styles {
		g.Go(func() error {
			v := Variant{Index: offset + i, Style: style, Attempt: attempt}
			prompt := o.deps.Prompts.Build(req.Era, style, req.Options.WithStyle(style), req.Language)

			img, err := o.deps.Generator.Generate(ctx, models.NewGenerationRequest(req.Source, prompt))
			switch {
			case err != nil:
				v.Outcome = OutcomeError
				v.Err = err
			case img.Empty():
				v.Outcome = OutcomeEmpty
			default:
				v.Outcome = OutcomeImage
				v.Raw = img
			}

			logging.Event(o.log, "VARIANT_RESULT").WithFields(logrus.Fields{
				"style":   style,
				"attempt": attempt.String(),
				"outcome": v.Outcome.String(),
			}).WithError(err).Debug("variant settled")

			variants[i] = v
			return nil
		})
	}
	_ = g.Wait()

	return variants
}

// stampAll watermarks every raw success concurrently. Images that fail are
// dropped; the first stamp error is returned for diagnostics.
func (o *Orchestrator) stampAll(log logrus.FieldLogger, sess *Session, raw []Variant) ([]Result, error) {
	stamped := make([]*models.Image, len(raw))
	errs := make([]error, len(raw))

	var g errgroup.Group
	for i, v := range raw {
		g.Go(func() error {
			stamped[i], errs[i] = o.deps.Stamper.Stamp(v.Raw)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	results := make([]Result, 0, len(raw))
	for i, v := range raw {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			sess.Variants[v.Index].Outcome = OutcomeStampFailed
			sess.Variants[v.Index].Err = errs[i]
			logging.Event(log, "WATERMARK_ERROR").WithField("style", v.Style).WithError(errs[i]).Warn("dropping image that could not be watermarked")
			continue
		}
		results = append(results, Result{
			Index:       v.Index,
			Style:       v.Style,
			Raw:         v.Raw,
			Watermarked: stamped[i],
		})
	}
	return results, firstErr
}

func (o *Orchestrator) stale(ctx context.Context, sess *Session) bool {
	return ctx.Err() != nil || o.epoch.Load() != sess.epoch
}

// commit charges the ledger unless the session went stale. ok is false when
// it did and nothing was charged.
func (o *Orchestrator) commit(ctx context.Context, sess *Session) (left int, ok bool, err error) {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	if o.stale(ctx, sess) {
		return 0, false, nil
	}
	left, err = o.deps.Ledger.RecordSuccess(ctx)
	return left, true, err
}

func (o *Orchestrator) abandon(log logrus.FieldLogger) (*Session, error) {
	logging.Event(log, "TRANSFORMATION_ABANDONED").Info("discarding results of an abandoned transformation")
	return nil, ErrAbandoned
}

func (o *Orchestrator) fail(sess *Session, state State, f *Failure) (*Session, error) {
	sess.Kind = f.Kind
	sess.FinishedAt = time.Now()
	o.transition(sess, state)
	return sess, f
}

func (o *Orchestrator) transition(sess *Session, state State) {
	sess.State = state
	if o.observer != nil {
		o.observer(sess.ID, state)
	}
}

func (o *Orchestrator) setCancel(cancel context.CancelFunc) {
	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()
}

// variantStyles picks the first k styles for lang, or the placeholder when
// the era has none.
func variantStyles(era *models.Era, lang models.Language, k int) []string {
	styles := era.Styles(lang)
	if len(styles) == 0 {
		return []string{PlaceholderStyle}
	}
	if len(styles) > k {
		styles = styles[:k]
	}
	return styles
}

// fallbackStyle returns the first style of the era's full list that was not
// already attempted, or the generic style when every one was.
func fallbackStyle(era *models.Era, lang models.Language, attempted []string) string {
	for _, s := range era.Styles(lang) {
		if strings.TrimSpace(s) != "" && !slices.Contains(attempted, s) {
			return s
		}
	}
	return GenericFallbackStyle
}

func countOutcome(vs []Variant, outcome Outcome) int {
	n := 0
	for _, v := range vs {
		if v.Outcome == outcome {
			n++
		}
	}
	return n
}

func successes(vs []Variant) []Variant {
	var out []Variant
	for _, v := range vs {
		if v.Outcome == OutcomeImage {
			out = append(out, v)
		}
	}
	return out
}

func firstError(vs []Variant) error {
	for _, v := range vs {
		if v.Outcome == OutcomeError && v.Err != nil {
			return v.Err
		}
	}
	return nil
}
