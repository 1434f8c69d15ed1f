// Package batch runs a list of transformations one after another. Runs are
// sequential because an orchestrator serializes transformations anyway, and
// the batch stops as soon as the daily limit is reached.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/timewarp-studio/timewarp/internal/content"
	"github.com/timewarp-studio/timewarp/internal/image"
	"github.com/timewarp-studio/timewarp/internal/orchestrator"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

// ErrSkipped marks items never attempted because the batch stopped early.
var ErrSkipped = errors.New("skipped")

type Transformer interface {
	Transform(ctx context.Context, req *orchestrator.Request) (*orchestrator.Session, error)
}

type Loader interface {
	Load(ctx context.Context, src string) (*models.Image, error)
}

type Eras interface {
	Era(id string) (*models.Era, error)
}

type Saver interface {
	SaveResult(dir, eraName string, index int, watermarked, raw *models.Image) (*image.Saved, error)
}

type Result struct {
	Index     int
	Source    string
	EraID     string
	Paths     []string
	Fallback  bool
	Remaining int
	Error     error
	Duration  time.Duration
}

type Options struct {
	OutputDir   string
	Language    models.Language
	Transform   models.TransformationOptions
	StopOnError bool
	DelayMs     int
}

type Processor struct {
	transformer Transformer
	loader      Loader
	eras        Eras
	saver       Saver
	messages    content.Messages
	out         io.Writer
	err         io.Writer
}

func NewProcessor(t Transformer, loader Loader, eras Eras, saver Saver, messages content.Messages, out, errOut io.Writer) *Processor {
	return &Processor{
		transformer: t,
		loader:      loader,
		eras:        eras,
		saver:       saver,
		messages:    messages,
		out:         out,
		err:         errOut,
	}
}

// Process runs every item in order. It returns early with the limit failure
// when the daily quota runs out; the remaining items are marked ErrSkipped.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{Index: item.Index, Source: item.Source, EraID: item.EraID, Error: ErrSkipped}
	}
	total := len(items)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		results[i] = p.processItem(ctx, item, opts, i+1, total)

		var f *orchestrator.Failure
		if errors.As(results[i].Error, &f) && f.Kind == orchestrator.KindLimitReached {
			return results, fmt.Errorf("stopped at item %d: %w", i+1, results[i].Error)
		}
		if results[i].Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", i+1, results[i].Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Source: item.Source,
		EraID:  item.EraID,
	}
	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		fmt.Fprintf(p.err, "       Error: %s\n", p.describe(err))
		return result
	}

	fmt.Fprintf(p.out, "[%d/%d] %s -> %s\n", current, total, item.Source, item.EraID)

	era, err := p.eras.Era(item.EraID)
	if err != nil {
		return fail(err)
	}

	src, err := p.loader.Load(ctx, item.Source)
	if err != nil {
		return fail(err)
	}

	sess, err := p.transformer.Transform(ctx, &orchestrator.Request{
		Source:   src,
		Era:      era,
		Language: opts.Language,
		Options:  opts.Transform,
	})
	if err != nil {
		return fail(err)
	}

	dir := filepath.Join(opts.OutputDir, item.Output)
	eraName := era.DisplayName(opts.Language)
	for n, r := range sess.Results {
		saved, err := p.saver.SaveResult(dir, eraName, n, r.Watermarked, r.Raw)
		if err != nil {
			return fail(err)
		}
		result.Paths = append(result.Paths, saved.Path)
		fmt.Fprintf(p.out, "       Saved: %s (%s)\n", saved.Path, humanize.Bytes(uint64(saved.Bytes)))
	}

	result.Fallback = sess.UsedFallback()
	result.Remaining = sess.Remaining
	result.Duration = time.Since(start)
	return result
}

// describe returns the localized text for user-facing failures and the
// error itself otherwise.
func (p *Processor) describe(err error) string {
	var f *orchestrator.Failure
	if errors.As(err, &f) {
		return f.UserMessage(p.messages)
	}
	return err.Error()
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, skipped, images int
	var errs []Result

	for _, r := range results {
		switch {
		case errors.Is(r.Error, ErrSkipped):
			skipped++
		case r.Error != nil:
			failed++
			errs = append(errs, r)
		default:
			successful++
			images += len(r.Paths)
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d transformations (%d images)\n", successful, len(results), images)
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	if skipped > 0 {
		fmt.Fprintf(p.out, "  Skipped: %d\n", skipped)
	}

	if len(errs) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(p.out, "  [%d] %s -> %s: %s\n", e.Index, e.Source, e.EraID, p.describe(e.Error))
		}
	}
}
