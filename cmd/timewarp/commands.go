package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/timewarp-studio/timewarp/internal/batch"
	"github.com/timewarp-studio/timewarp/internal/keys"
	"github.com/timewarp-studio/timewarp/internal/orchestrator"
	"github.com/timewarp-studio/timewarp/internal/repl"
	"github.com/timewarp-studio/timewarp/internal/session"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

func newTransformCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform <image>",
		Short: "Transform a portrait into an era",
		Long: `Transform renders one variant per era style, watermarks them and saves
them as timewarp_studio_<era>_<n>.png. The image may be a local file or an
http(s) URL. A successful run counts once against the daily limit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(cmd, app, args[0])
		},
	}
	cmd.Flags().StringVarP(&flagEra, "era", "e", "", "target era id (see 'timewarp eras')")
	cmd.Flags().StringVarP(&flagModifier, "modifier", "m", "", "artistic style added to every prompt")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&flagShow, "show", false, "display results inline (Kitty graphics terminals)")
	return cmd
}

func runTransform(cmd *cobra.Command, app *App, src string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{provider: true, history: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	era, err := rt.era(flagEra)
	if err != nil {
		return err
	}
	source, err := rt.loader.Load(ctx, src)
	if err != nil {
		return localize(err, rt.messages)
	}

	lang := rt.cfg.Language
	eraName := era.DisplayName(lang)
	fmt.Fprintf(app.Out, "Warping to %s...\n", eraName)

	sess, err := rt.orch.Transform(ctx, &orchestrator.Request{
		Source:   source,
		Era:      era,
		Language: lang,
		Options:  models.DefaultOptions(flagModifier),
	})
	if err != nil {
		return localize(err, rt.messages)
	}

	iters := make([]*session.Iteration, 0, len(sess.Results))
	shower := rt.displayer(app, flagShow)
	for n, res := range sess.Results {
		saved, err := rt.saver.SaveResult(rt.cfg.Output.Dir, eraName, n, res.Watermarked, res.Raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Saved: %s (%s)\n", saved.Path, humanize.Bytes(uint64(saved.Bytes)))
		if shower != nil {
			if err := shower.Display(res.Watermarked, res.Style); err != nil {
				fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
			}
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
				Format:   string(models.FormatPNG),
				Bytes:    saved.Bytes,
				Variant:  n + 1,
				Provider: rt.cfg.Generation.Provider,
			},
		})
	}

	mgr := session.NewManager(rt.history, rt.cfg.History.ImageDir, rt.cfg.Generation.ImageModel)
	if _, err := mgr.StartNew(ctx, sess.ID, era.ID, lang.String()); err != nil {
		fmt.Fprintf(app.Err, "Warning: failed to record history: %v\n", err)
	} else if err := mgr.AddVariants(ctx, iters); err != nil {
		fmt.Fprintf(app.Err, "Warning: failed to record history: %v\n", err)
	}

	fmt.Fprintln(app.Out, rt.messages.Complete)
	fmt.Fprintln(app.Out, rt.messages.ArrivedAt(eraName))
	if sess.UsedFallback() {
		color.New(color.FgYellow).Fprintln(app.Out, "Primary styles came back empty; a fallback style was used.")
	}
	fmt.Fprintf(app.Out, "Session: %s\n", sess.ID)
	printRemaining(app.Out, rt.messages, sess.Remaining)
	return nil
}

func newEditCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <image> <instruction>",
		Short: "Apply a magic edit to a generated image",
		Long: `Edit asks the model to change an image following a free-form instruction,
e.g. "add a monocle". Pass the _raw copy of a result for the cleanest input.
Edits do not count against the daily limit.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, app, args[0], strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringVarP(&flagEra, "era", "e", "", "era used to name the output file")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&flagShow, "show", false, "display the result inline")
	return cmd
}

func runEdit(cmd *cobra.Command, app *App, src, instruction string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{provider: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	name := "magic edit"
	if flagEra != "" {
		era, err := rt.catalog.Era(flagEra)
		if err != nil {
			return err
		}
		name = era.DisplayName(rt.cfg.Language) + " edit"
	}

	raw, err := rt.loader.Load(ctx, src)
	if err != nil {
		return localize(err, rt.messages)
	}

	fmt.Fprintln(app.Out, "Editing...")
	res, err := rt.aux.MagicEdit(ctx, raw, instruction, rt.cfg.Language)
	if err != nil {
		return localize(err, rt.messages)
	}

	saved, err := rt.saver.SaveResult(rt.cfg.Output.Dir, name, 0, res.Watermarked, res.Raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Saved: %s (%s)\n", saved.Path, humanize.Bytes(uint64(saved.Bytes)))
	if shower := rt.displayer(app, flagShow); shower != nil {
		if err := shower.Display(res.Watermarked, instruction); err != nil {
			fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

func newStoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story <image>",
		Short: "Write a short story about a portrait in its era",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, era, raw, err := auxInputs(cmd, app, args[0])
			if err != nil {
				return err
			}
			defer rt.Close()

			story, err := rt.aux.Story(ctx, raw, era, rt.cfg.Language)
			if err != nil {
				return localize(err, rt.messages)
			}
			fmt.Fprintln(app.Out, story)
			return nil
		},
	}
	cmd.Flags().StringVarP(&flagEra, "era", "e", "", "era the portrait belongs to")
	return cmd
}

func newSuggestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <image>",
		Short: "Suggest magic edits for a portrait",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, era, raw, err := auxInputs(cmd, app, args[0])
			if err != nil {
				return err
			}
			defer rt.Close()

			ideas, err := rt.aux.Suggestions(ctx, raw, era, rt.cfg.Language)
			if err != nil {
				return localize(err, rt.messages)
			}
			for i, idea := range ideas {
				fmt.Fprintf(app.Out, "%d. %s\n", i+1, idea)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flagEra, "era", "e", "", "era the portrait belongs to")
	return cmd
}

// auxInputs builds the runtime and resolves the era and image shared by
// story and suggest. The caller closes the runtime.
func auxInputs(cmd *cobra.Command, app *App, src string) (*runtime, *models.Era, *models.Image, error) {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{provider: true})
	if err != nil {
		return nil, nil, nil, err
	}
	era, err := rt.era(flagEra)
	if err != nil {
		rt.Close()
		return nil, nil, nil, err
	}
	raw, err := rt.loader.Load(ctx, src)
	if err != nil {
		rt.Close()
		return nil, nil, nil, localize(err, rt.messages)
	}
	return rt, era, raw, nil
}

func newErasCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "eras",
		Short: "List destination eras by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), cmd, app, runtimeNeeds{})
			if err != nil {
				return err
			}
			defer rt.Close()

			lang := rt.cfg.Language
			heading := color.New(color.Bold)
			for _, g := range rt.catalog.Categories(lang) {
				heading.Fprintln(app.Out, g.Name)
				for _, era := range g.Eras {
					fmt.Fprintf(app.Out, "  %-18s %s (%s)\n", era.ID, era.DisplayName(lang), era.DisplayPeriod(lang))
				}
			}
			return nil
		},
	}
}

func newQuotaCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show transformations left today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), cmd, app, runtimeNeeds{ledger: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			remaining := rt.ledger.Remaining(cmd.Context())
			printRemaining(app.Out, rt.messages, remaining)
			fmt.Fprintf(app.Out, "Daily limit: %d\n", rt.ledger.Limit())
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear today's usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), cmd, app, runtimeNeeds{ledger: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			if !flagYes && !confirm(app.In, app.Out, "Reset today's usage?") {
				fmt.Fprintln(app.Out, "Aborted.")
				return nil
			}
			if err := rt.ledger.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset usage: %w", err)
			}
			printRemaining(app.Out, rt.messages, rt.ledger.Remaining(cmd.Context()))
			return nil
		},
	}
	reset.Flags().BoolVarP(&flagYes, "yes", "y", false, "skip confirmation")
	cmd.AddCommand(reset)
	return cmd
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Transform several photos listed in a file",
		Long: `Batch runs one transformation per entry, in order. Text files hold one
"image era [output]" entry per line; '#' starts a comment. JSON files hold
an array of {"image", "era", "output"} objects.

Processing stops once the daily limit is reached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, app, args[0])
		},
	}
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "default output directory")
	cmd.Flags().StringVarP(&flagModifier, "modifier", "m", "", "artistic style added to every prompt")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed entry")
	cmd.Flags().IntVar(&flagDelay, "delay", 0, "delay between entries in milliseconds")
	return cmd
}

func runBatch(cmd *cobra.Command, app *App, path string) error {
	items, err := batch.ParseFile(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{provider: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	proc := batch.NewProcessor(rt.orch, rt.loader, rt.catalog, rt.saver, rt.messages, app.Out, app.Err)
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:   rt.cfg.Output.Dir,
		Language:    rt.cfg.Language,
		Transform:   models.DefaultOptions(flagModifier),
		StopOnError: flagStopOnError,
		DelayMs:     flagDelay,
	})
	proc.PrintSummary(results)
	if err != nil {
		return localize(err, rt.messages)
	}
	return nil
}

func newHistoryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history [session-id]",
		Short: "List past transformations, or the images of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{history: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			mgr := session.NewManager(rt.history, rt.cfg.History.ImageDir, rt.cfg.Generation.ImageModel)
			if len(args) == 0 {
				return listSessions(ctx, app.Out, mgr)
			}
			if err := loadSession(ctx, mgr, args[0]); err != nil {
				return err
			}
			return listIterations(ctx, app.Out, mgr)
		},
	}
}

func newUndoCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <session-id>",
		Short: "Revert a session to the image before its last edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{history: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			mgr := session.NewManager(rt.history, rt.cfg.History.ImageDir, rt.cfg.Generation.ImageModel)
			if err := loadSession(ctx, mgr, args[0]); err != nil {
				return err
			}
			iter, err := mgr.Undo(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Reverted to: %s (%s)\n", iter.Style, iter.ImagePath)
			return nil
		},
	}
}

// loadSession loads the session whose id starts with prefix.
func loadSession(ctx context.Context, mgr *session.Manager, prefix string) error {
	sessions, err := mgr.ListSessions(ctx)
	if err != nil {
		return err
	}
	var match string
	for _, s := range sessions {
		if !strings.HasPrefix(s.ID, prefix) {
			continue
		}
		if match != "" {
			return fmt.Errorf("session id %q is ambiguous", prefix)
		}
		match = s.ID
	}
	if match == "" {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, prefix)
	}
	return mgr.Load(ctx, match)
}

func listSessions(ctx context.Context, out io.Writer, mgr *session.Manager) error {
	sessions, err := mgr.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions yet.")
		return nil
	}
	for _, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(out, "%s  %-18s %-3s %s\n", id, s.EraID, s.Language, humanize.Time(s.UpdatedAt))
	}
	return nil
}

func listIterations(ctx context.Context, out io.Writer, mgr *session.Manager) error {
	history, err := mgr.History(ctx)
	if err != nil {
		return err
	}
	current := mgr.CurrentIteration()
	for n, iter := range history {
		marker := "  "
		if current != nil && current.ID == iter.ID {
			marker = "* "
		}
		fmt.Fprintf(out, "%s[%d] %-9s %s: %s\n", marker, n+1, iter.Operation, iter.Style, iter.ImagePath)
	}
	return nil
}

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider> [key]",
		Short: "Store an API key (read from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			key := ""
			if len(args) == 2 {
				key = args[1]
			} else {
				key, err = readKey(app.In, app.Out)
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(key) == "" {
				return errors.New("API key cannot be empty")
			}
			if err := store.Set(args[0], strings.TrimSpace(key)); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Saved %s key to %s\n", args[0], store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <provider>",
		Short: "Show a stored API key, masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			key, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("no key stored for %s", args[0])
			}
			fmt.Fprintf(app.Out, "%s: %s\n", args[0], keys.MaskKey(key))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Deleted %s key\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers with stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(app.Out, "No keys stored.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(app.Out, name)
			}
			return nil
		},
	})

	return cmd
}

func newInteractiveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"studio", "i"},
		Short:   "Start the interactive studio",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, cmd, app, runtimeNeeds{provider: true, history: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			r := repl.New(&repl.Config{
				In:          app.In,
				Out:         app.Out,
				Err:         app.Err,
				Transformer: rt.orch,
				Aux:         rt.aux,
				Catalog:     rt.catalog,
				Loader:      rt.loader,
				SessionMgr:  session.NewManager(rt.history, rt.cfg.History.ImageDir, rt.cfg.Generation.ImageModel),
				Displayer:   rt.displayer(app, true),
				Saver:       rt.saver,
				Language:    rt.cfg.Language,
				Limit:       rt.ledger.Limit(),
			})
			return r.Run(ctx)
		},
	}
}

// confirm asks a yes/no question. Without a terminal on stdin there is
// nobody to ask, so it proceeds.
func confirm(in io.Reader, out io.Writer, question string) bool {
	if !isTerminal(in) {
		return true
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// readKey reads an API key without echo when stdin is a terminal.
func readKey(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(in) {
		fmt.Fprint(out, "API key: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return string(data), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return line, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
