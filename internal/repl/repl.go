// Package repl is the interactive studio: load a photo, pick an era,
// transform it, then edit, narrate and browse the results.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/timewarp-studio/timewarp/internal/content"
	"github.com/timewarp-studio/timewarp/internal/display"
	"github.com/timewarp-studio/timewarp/internal/image"
	"github.com/timewarp-studio/timewarp/internal/orchestrator"
	"github.com/timewarp-studio/timewarp/internal/session"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

type Transformer interface {
	Transform(ctx context.Context, req *orchestrator.Request) (*orchestrator.Session, error)
	Remaining(ctx context.Context) int
	Restart()
}

type AuxRunner interface {
	MagicEdit(ctx context.Context, raw *models.Image, instruction string, lang models.Language) (*orchestrator.Result, error)
	Story(ctx context.Context, raw *models.Image, era *models.Era, lang models.Language) (string, error)
	Suggestions(ctx context.Context, raw *models.Image, era *models.Era, lang models.Language) ([]string, error)
}

type Catalog interface {
	Eras() []*models.Era
	Era(id string) (*models.Era, error)
	Categories(lang models.Language) []content.CategoryGroup
	Messages(lang models.Language) content.Messages
}

type Loader interface {
	Load(ctx context.Context, src string) (*models.Image, error)
}

type REPL struct {
	in          io.Reader
	out         io.Writer
	err         io.Writer
	transformer Transformer
	aux         AuxRunner
	catalog     Catalog
	loader      Loader
	sessionMgr  *session.Manager
	displayer   *display.Displayer
	saver       *image.Saver
	limit       int
	commands    map[string]Command
	running     bool

	lang     models.Language
	source   *models.Image
	era      *models.Era
	modifier string
}

type Config struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Transformer Transformer
	Aux         AuxRunner
	Catalog     Catalog
	Loader      Loader
	SessionMgr  *session.Manager
	// Displayer is nil when the terminal cannot show images inline.
	Displayer *display.Displayer
	Saver     *image.Saver
	Language  models.Language
	Limit     int
}

func New(cfg *Config) *REPL {
	lang := cfg.Language
	if !lang.IsValid() {
		lang = models.LangEnglish
	}
	r := &REPL{
		in:          cfg.In,
		out:         cfg.Out,
		err:         cfg.Err,
		transformer: cfg.Transformer,
		aux:         cfg.Aux,
		catalog:     cfg.Catalog,
		loader:      cfg.Loader,
		sessionMgr:  cfg.SessionMgr,
		displayer:   cfg.Displayer,
		saver:       cfg.Saver,
		limit:       cfg.Limit,
		commands:    make(map[string]Command),
		lang:        lang,
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome(ctx)

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %s\n", r.describe(err))
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) messages() content.Messages {
	return r.catalog.Messages(r.lang)
}

// describe maps user-facing failures to their localized text. Technical
// causes are already in the logs.
func (r *REPL) describe(err error) string {
	var f *orchestrator.Failure
	if errors.As(err, &f) {
		return f.UserMessage(r.messages())
	}
	var auxErr *orchestrator.AuxError
	if errors.As(err, &auxErr) {
		return auxErr.UserMessage(r.messages())
	}
	m := r.messages()
	switch {
	case errors.Is(err, image.ErrNotImage):
		return m.NotImage
	case errors.Is(err, image.ErrTooLarge):
		return m.TooLarge
	case errors.Is(err, image.ErrReadImage):
		return m.ReadError
	}
	return err.Error()
}

func (r *REPL) printWelcome(ctx context.Context) {
	fmt.Fprintln(r.out, "Time Warp Studio interactive mode")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out, r.messages().RemainingFor(r.transformer.Remaining(ctx)))
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	eraID := "-"
	if r.era != nil {
		eraID = r.era.ID
	}
	if r.sessionMgr.HasIteration() {
		iter := r.sessionMgr.CurrentIteration()
		fmt.Fprintf(r.out, "timewarp [%s] (%s)> ", eraID, iter.Operation)
	} else {
		fmt.Fprintf(r.out, "timewarp [%s]> ", eraID)
	}
}

// show renders img inline when the terminal supports it.
func (r *REPL) show(img *models.Image, caption string) {
	if r.displayer == nil {
		return
	}
	if err := r.displayer.Display(img, caption); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
