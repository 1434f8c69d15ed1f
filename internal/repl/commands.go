package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timewarp-studio/timewarp/internal/content"
	"github.com/timewarp-studio/timewarp/internal/image"
	"github.com/timewarp-studio/timewarp/internal/orchestrator"
	"github.com/timewarp-studio/timewarp/internal/security"
	"github.com/timewarp-studio/timewarp/internal/session"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

var (
	errNoSource = errors.New("no photo loaded - use 'load <path|url>' first")
	errNoEra    = errors.New("no era selected - use 'era <id>' or 'eras' to browse")
	errNoImage  = errors.New("no current image - use 'transform' first")
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&LoadCommand{},
		&ErasCommand{},
		&EraCommand{},
		&ModifierCommand{},
		&TransformCommand{},
		&SelectCommand{},
		&EditCommand{},
		&StoryCommand{},
		&SuggestCommand{},
		&UndoCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&HistoryCommand{},
		&SessionCommand{},
		&QuotaCommand{},
		&LanguageCommand{},
		&RestartCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// LoadCommand loads the source photo
type LoadCommand struct{}

func (c *LoadCommand) Name() string        { return "load" }
func (c *LoadCommand) Aliases() []string   { return []string{"open", "l"} }
func (c *LoadCommand) Description() string { return "Load a photo from a file or HTTPS URL" }
func (c *LoadCommand) Usage() string       { return "load <path|url>" }

func (c *LoadCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	img, err := r.loader.Load(ctx, args[0])
	if err != nil {
		return err
	}

	r.source = img
	fmt.Fprintf(r.out, "Loaded: %s (%s)\n", args[0], img.MIMEType)
	r.show(img, filepath.Base(args[0]))
	return nil
}

// ErasCommand lists the era catalog by category
type ErasCommand struct{}

func (c *ErasCommand) Name() string        { return "eras" }
func (c *ErasCommand) Aliases() []string   { return []string{"list"} }
func (c *ErasCommand) Description() string { return "List available eras by category" }
func (c *ErasCommand) Usage() string       { return "eras" }

func (c *ErasCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	printCategories(r, r.catalog.Categories(r.lang))
	return nil
}

func printCategories(r *REPL, groups []content.CategoryGroup) {
	for _, g := range groups {
		fmt.Fprintf(r.out, "%s\n", g.Name)
		for _, era := range g.Eras {
			marker := "  "
			if r.era != nil && r.era.ID == era.ID {
				marker = "> "
			}
			fmt.Fprintf(r.out, "%s%-20s %s (%s)\n", marker, era.ID, era.DisplayName(r.lang), era.DisplayPeriod(r.lang))
		}
	}
}

// EraCommand selects the target era
type EraCommand struct{}

func (c *EraCommand) Name() string        { return "era" }
func (c *EraCommand) Aliases() []string   { return nil }
func (c *EraCommand) Description() string { return "Show or select the target era" }
func (c *EraCommand) Usage() string       { return "era [id]" }

func (c *EraCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		if r.era == nil {
			return errNoEra
		}
		printEra(r, r.era)
		return nil
	}

	era, err := r.catalog.Era(args[0])
	if err != nil {
		return err
	}
	r.era = era
	printEra(r, era)
	return nil
}

func printEra(r *REPL, era *models.Era) {
	fmt.Fprintf(r.out, "%s (%s)\n", era.DisplayName(r.lang), era.DisplayPeriod(r.lang))
	fmt.Fprintf(r.out, "  %s\n", era.DisplayDescription(r.lang))
	if styles := era.Styles(r.lang); len(styles) > 0 {
		fmt.Fprintf(r.out, "  Styles: %s\n", strings.Join(styles, ", "))
	}
}

// ModifierCommand sets the artistic modifier added to every prompt
type ModifierCommand struct{}

func (c *ModifierCommand) Name() string        { return "modifier" }
func (c *ModifierCommand) Aliases() []string   { return []string{"mod"} }
func (c *ModifierCommand) Description() string { return "Set or clear the artistic style modifier" }
func (c *ModifierCommand) Usage() string       { return "modifier [text]" }

func (c *ModifierCommand) Execute(_ context.Context, r *REPL, args []string) error {
	r.modifier = strings.Join(args, " ")
	if r.modifier == "" {
		fmt.Fprintln(r.out, "Modifier cleared")
		return nil
	}
	fmt.Fprintf(r.out, "Modifier set to: %s\n", r.modifier)
	return nil
}

// TransformCommand runs a transformation of the loaded photo
type TransformCommand struct{}

func (c *TransformCommand) Name() string        { return "transform" }
func (c *TransformCommand) Aliases() []string   { return []string{"warp", "t"} }
func (c *TransformCommand) Description() string { return "Transform the loaded photo into the selected era" }
func (c *TransformCommand) Usage() string       { return "transform [era]" }

func (c *TransformCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) > 0 {
		era, err := r.catalog.Era(args[0])
		if err != nil {
			return err
		}
		r.era = era
	}
	if r.source == nil {
		return errNoSource
	}
	if r.era == nil {
		return errNoEra
	}

	eraName := r.era.DisplayName(r.lang)
	fmt.Fprintf(r.out, "Warping to %s...\n", eraName)

	sess, err := r.transformer.Transform(ctx, &orchestrator.Request{
		Source:   r.source,
		Era:      r.era,
		Language: r.lang,
		Options:  models.DefaultOptions(r.modifier),
	})
	if err != nil {
		return err
	}

	if _, err := r.sessionMgr.StartNew(ctx, sess.ID, r.era.ID, r.lang.String()); err != nil {
		return err
	}
	dir, err := r.sessionMgr.ImageDir()
	if err != nil {
		return err
	}

	iters := make([]*session.Iteration, 0, len(sess.Results))
	for n, res := range sess.Results {
		saved, err := r.saver.SaveResult(dir, eraName, n, res.Watermarked, res.Raw)
		if err != nil {
			return err
		}
		op := session.OpTransform
		if sess.Variants[res.Index].Attempt == orchestrator.AttemptFallback {
			op = session.OpFallback
		}
		iters = append(iters, &session.Iteration{
			Operation: op,
			Style:     res.Style,
			ImagePath: saved.Path,
			RawPath:   saved.RawPath,
			Metadata: session.IterationMetadata{
				Format:  string(models.FormatPNG),
				Bytes:   saved.Bytes,
				Variant: n + 1,
			},
		})
	}
	if err := r.sessionMgr.AddVariants(ctx, iters); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	m := r.messages()
	fmt.Fprintln(r.out, m.Complete)
	fmt.Fprintln(r.out, m.ArrivedAt(eraName))
	for n, iter := range iters {
		fmt.Fprintf(r.out, "  [%d] %s: %s\n", n+1, iter.Style, iter.ImagePath)
		r.show(sess.Results[n].Watermarked, iter.Style)
	}
	fmt.Fprintln(r.out, m.RemainingFor(sess.Remaining))
	return nil
}

// SelectCommand makes a history entry current
type SelectCommand struct{}

func (c *SelectCommand) Name() string        { return "select" }
func (c *SelectCommand) Aliases() []string   { return []string{"pick"} }
func (c *SelectCommand) Description() string { return "Select an image from the history list" }
func (c *SelectCommand) Usage() string       { return "select <n>" }

func (c *SelectCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid number: %s", args[0])
	}

	history, err := r.sessionMgr.History(ctx)
	if err != nil {
		return err
	}
	if n < 1 || n > len(history) {
		return fmt.Errorf("no image %d (history has %d)", n, len(history))
	}

	iter, err := r.sessionMgr.Select(ctx, history[n-1].ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Selected [%d] %s: %s\n", n, iter.Operation, iter.Style)
	showFile(r, iter.ImagePath, iter.Style)
	return nil
}

// EditCommand applies a magic edit to the current image
type EditCommand struct{}

func (c *EditCommand) Name() string        { return "edit" }
func (c *EditCommand) Aliases() []string   { return []string{"e"} }
func (c *EditCommand) Description() string { return "Magic edit the current image with an instruction" }
func (c *EditCommand) Usage() string       { return "edit <instruction>" }

func (c *EditCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	raw, err := currentRaw(r)
	if err != nil {
		return err
	}

	instruction := strings.Join(args, " ")
	fmt.Fprintln(r.out, "Editing...")

	res, err := r.aux.MagicEdit(ctx, raw, instruction, r.lang)
	if err != nil {
		return err
	}

	dir, err := r.sessionMgr.ImageDir()
	if err != nil {
		return err
	}
	count, err := r.sessionMgr.IterationCount(ctx)
	if err != nil {
		return err
	}
	saved, err := r.saver.SaveResult(dir, sessionEraName(r)+" edit", count, res.Watermarked, res.Raw)
	if err != nil {
		return err
	}

	iter := &session.Iteration{
		Style:     instruction,
		ImagePath: saved.Path,
		RawPath:   saved.RawPath,
		Metadata: session.IterationMetadata{
			Format: string(models.FormatPNG),
			Bytes:  saved.Bytes,
		},
	}
	if err := r.sessionMgr.AddEdit(ctx, iter); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	r.show(res.Watermarked, instruction)
	fmt.Fprintf(r.out, "Saved: %s\n", saved.Path)
	return nil
}

// StoryCommand narrates the current image
type StoryCommand struct{}

func (c *StoryCommand) Name() string        { return "story" }
func (c *StoryCommand) Aliases() []string   { return []string{"tell"} }
func (c *StoryCommand) Description() string { return "Write a short story about the current image" }
func (c *StoryCommand) Usage() string       { return "story" }

func (c *StoryCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	raw, err := currentRaw(r)
	if err != nil {
		return err
	}
	era, err := sessionEra(r)
	if err != nil {
		return err
	}

	story, err := r.aux.Story(ctx, raw, era, r.lang)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, story)
	return nil
}

// SuggestCommand proposes magic edit instructions
type SuggestCommand struct{}

func (c *SuggestCommand) Name() string        { return "suggest" }
func (c *SuggestCommand) Aliases() []string   { return []string{"ideas"} }
func (c *SuggestCommand) Description() string { return "Suggest magic edits for the current image" }
func (c *SuggestCommand) Usage() string       { return "suggest" }

func (c *SuggestCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	raw, err := currentRaw(r)
	if err != nil {
		return err
	}
	era, err := sessionEra(r)
	if err != nil {
		return err
	}

	ideas, err := r.aux.Suggestions(ctx, raw, era, r.lang)
	if err != nil {
		return err
	}
	for i, idea := range ideas {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, idea)
	}
	fmt.Fprintln(r.out, "Use: edit \"<suggestion>\"")
	return nil
}

// UndoCommand reverts to the image an edit was made from
type UndoCommand struct{}

func (c *UndoCommand) Name() string        { return "undo" }
func (c *UndoCommand) Aliases() []string   { return []string{"u", "back"} }
func (c *UndoCommand) Description() string { return "Revert the last magic edit" }
func (c *UndoCommand) Usage() string       { return "undo" }

func (c *UndoCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	prev, err := r.sessionMgr.Undo(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Reverted to: %s\n", prev.Style)
	showFile(r, prev.ImagePath, prev.Style)
	return nil
}

// ShowCommand displays the current image
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display the current image" }
func (c *ShowCommand) Usage() string       { return "show" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if !r.sessionMgr.HasIteration() {
		return errNoImage
	}
	if r.displayer == nil {
		fmt.Fprintf(r.out, "Inline images are not supported here: %s\n", r.sessionMgr.CurrentImagePath())
		return nil
	}

	iter := r.sessionMgr.CurrentIteration()
	data, err := os.ReadFile(iter.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	return r.displayer.Display(&models.Image{Data: data, MIMEType: "image/png"}, iter.Style)
}

// SaveCommand copies the current image to a path
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Save the current image to a file" }
func (c *SaveCommand) Usage() string       { return "save [filename]" }

func (c *SaveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if !r.sessionMgr.HasIteration() {
		return errNoImage
	}

	currentPath := r.sessionMgr.CurrentImagePath()

	var destPath string
	if len(args) > 0 {
		destPath = args[0]
		if err := security.ValidateSavePath(destPath); err != nil {
			return fmt.Errorf("invalid save path: %w", err)
		}
	} else {
		destPath = filepath.Base(currentPath)
	}

	data, err := os.ReadFile(currentPath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	if err := r.saver.Save(&models.Image{Data: data, MIMEType: "image/png"}, destPath); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}

	fmt.Fprintf(r.out, "Saved: %s\n", destPath)
	return nil
}

// HistoryCommand lists the images of the current session
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show the images of the current session" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	history, err := r.sessionMgr.History(ctx)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Fprintln(r.out, "No history yet")
		return nil
	}

	currentID := ""
	if r.sessionMgr.HasIteration() {
		currentID = r.sessionMgr.CurrentIteration().ID
	}

	for i, iter := range history {
		marker := "  "
		if iter.ID == currentID {
			marker = "> "
		}
		fmt.Fprintf(r.out, "%s[%d] %s %-9s %q\n",
			marker,
			i+1,
			session.FormatTimestamp(iter.Timestamp),
			iter.Operation,
			truncate(iter.Style, 50))
	}

	return nil
}

// SessionCommand manages stored sessions
type SessionCommand struct{}

func (c *SessionCommand) Name() string        { return "session" }
func (c *SessionCommand) Aliases() []string   { return []string{"sess"} }
func (c *SessionCommand) Description() string { return "Manage sessions (list, load, delete)" }
func (c *SessionCommand) Usage() string       { return "session <list|load|delete> [id]" }

func (c *SessionCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	subCmd := strings.ToLower(args[0])
	subArgs := args[1:]

	switch subCmd {
	case "list", "ls":
		return c.list(ctx, r)
	case "load":
		if len(subArgs) == 0 {
			return fmt.Errorf("usage: session load <id>")
		}
		return c.load(ctx, r, subArgs[0])
	case "delete", "rm":
		if len(subArgs) == 0 {
			return fmt.Errorf("usage: session delete <id>")
		}
		return c.delete(ctx, r, subArgs[0])
	default:
		return fmt.Errorf("unknown session command: %s", subCmd)
	}
}

func (c *SessionCommand) list(ctx context.Context, r *REPL) error {
	sessions, err := r.sessionMgr.ListSessions(ctx)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Fprintln(r.out, "No sessions found")
		return nil
	}

	currentID := ""
	if r.sessionMgr.HasSession() {
		currentID = r.sessionMgr.Current().ID
	}

	fmt.Fprintf(r.out, "%-8s  %-20s  %-4s  %s\n", "ID", "Era", "Lang", "Updated")
	fmt.Fprintln(r.out, strings.Repeat("-", 60))

	for _, sess := range sessions {
		marker := "  "
		if sess.ID == currentID {
			marker = "> "
		}
		fmt.Fprintf(r.out, "%s%-6s  %-20s  %-4s  %s\n",
			marker,
			shortID(sess.ID),
			truncate(sess.EraID, 20),
			sess.Language,
			session.FormatTimestamp(sess.UpdatedAt))
	}

	return nil
}

func (c *SessionCommand) resolve(ctx context.Context, r *REPL, prefix string) (string, error) {
	sessions, err := r.sessionMgr.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	for _, sess := range sessions {
		if strings.HasPrefix(sess.ID, prefix) {
			return sess.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", session.ErrSessionNotFound, prefix)
}

func (c *SessionCommand) load(ctx context.Context, r *REPL, prefix string) error {
	id, err := c.resolve(ctx, r, prefix)
	if err != nil {
		return err
	}
	if err := r.sessionMgr.Load(ctx, id); err != nil {
		return err
	}

	sess := r.sessionMgr.Current()
	if era, err := r.catalog.Era(sess.EraID); err == nil {
		r.era = era
	}
	fmt.Fprintf(r.out, "Loaded session: %s (%s)\n", shortID(sess.ID), sess.EraID)

	if r.sessionMgr.HasIteration() {
		iter := r.sessionMgr.CurrentIteration()
		fmt.Fprintf(r.out, "Current: %s - %q\n", iter.Operation, truncate(iter.Style, 50))
	}
	return nil
}

func (c *SessionCommand) delete(ctx context.Context, r *REPL, prefix string) error {
	id, err := c.resolve(ctx, r, prefix)
	if err != nil {
		return err
	}
	if err := r.sessionMgr.DeleteSession(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Deleted session: %s\n", shortID(id))
	return nil
}

// QuotaCommand shows today's remaining transformations
type QuotaCommand struct{}

func (c *QuotaCommand) Name() string        { return "quota" }
func (c *QuotaCommand) Aliases() []string   { return []string{"left"} }
func (c *QuotaCommand) Description() string { return "Show transformations left today" }
func (c *QuotaCommand) Usage() string       { return "quota" }

func (c *QuotaCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	remaining := r.transformer.Remaining(ctx)
	fmt.Fprintln(r.out, r.messages().RemainingFor(remaining))
	if r.limit > 0 {
		fmt.Fprintf(r.out, "Daily limit: %d\n", r.limit)
	}
	return nil
}

// LanguageCommand switches the display language
type LanguageCommand struct{}

func (c *LanguageCommand) Name() string        { return "lang" }
func (c *LanguageCommand) Aliases() []string   { return []string{"language"} }
func (c *LanguageCommand) Description() string { return "Show or set the language (en, fr)" }
func (c *LanguageCommand) Usage() string       { return "lang [code]" }

func (c *LanguageCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) > 0 {
		r.lang = content.MatchLanguage(args[0])
	}
	fmt.Fprintf(r.out, "Language: %s\n", r.lang)
	return nil
}

// RestartCommand abandons the current photo and any running transformation
type RestartCommand struct{}

func (c *RestartCommand) Name() string        { return "restart" }
func (c *RestartCommand) Aliases() []string   { return []string{"reset", "new"} }
func (c *RestartCommand) Description() string { return "Start over with a new photo" }
func (c *RestartCommand) Usage() string       { return "restart" }

func (c *RestartCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.transformer.Restart()
	r.source = nil
	r.era = nil
	fmt.Fprintln(r.out, "Ready for a new photo")
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-20s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                      Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

// currentRaw reads the unwatermarked bytes of the current image.
func currentRaw(r *REPL) (*models.Image, error) {
	if !r.sessionMgr.HasIteration() {
		return nil, errNoImage
	}
	data, err := os.ReadFile(r.sessionMgr.CurrentRawPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return image.Sniff(data)
}

// sessionEra is the era of the current session, or the selected one.
func sessionEra(r *REPL) (*models.Era, error) {
	if r.sessionMgr.HasSession() {
		if era, err := r.catalog.Era(r.sessionMgr.Current().EraID); err == nil {
			return era, nil
		}
	}
	if r.era == nil {
		return nil, errNoEra
	}
	return r.era, nil
}

func sessionEraName(r *REPL) string {
	era, err := sessionEra(r)
	if err != nil {
		return "image"
	}
	return era.DisplayName(r.lang)
}

func showFile(r *REPL, path, caption string) {
	if r.displayer == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	r.show(&models.Image{Data: data, MIMEType: "image/png"}, caption)
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
