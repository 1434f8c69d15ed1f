package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/timewarp-studio/timewarp/internal/config"
	"github.com/timewarp-studio/timewarp/internal/content"
	"github.com/timewarp-studio/timewarp/internal/display"
	"github.com/timewarp-studio/timewarp/internal/image"
	"github.com/timewarp-studio/timewarp/internal/keys"
	"github.com/timewarp-studio/timewarp/internal/kv"
	"github.com/timewarp-studio/timewarp/internal/ledger"
	"github.com/timewarp-studio/timewarp/internal/logging"
	"github.com/timewarp-studio/timewarp/internal/orchestrator"
	"github.com/timewarp-studio/timewarp/internal/prompt"
	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/internal/provider/gemini"
	"github.com/timewarp-studio/timewarp/internal/session"
	"github.com/timewarp-studio/timewarp/internal/watermark"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig      string
	flagLogLevel    string
	flagLang        string
	flagAPIKey      string
	flagEra         string
	flagOutput      string
	flagModifier    string
	flagShow        bool
	flagYes         bool
	flagStopOnError bool
	flagDelay       int
)

// apiKeyEnvVars are checked after the key store, in order.
var apiKeyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

type App struct {
	In           io.Reader
	Out          io.Writer
	Err          io.Writer
	NewProvider  func(ctx context.Context, name string, cfg *provider.Config) (provider.Provider, error)
	OpenStore    func(ctx context.Context, opts kv.Options) (kv.Store, error)
	OpenHistory  func(path string) (*session.Store, error)
	NewKeyStore  func() (*keys.Store, error)
	NewDisplayer func(out io.Writer, columns int) *display.Displayer
	CanDisplay   func(out io.Writer) bool
}

func DefaultApp() *App {
	return &App{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
		NewProvider: func(ctx context.Context, name string, cfg *provider.Config) (provider.Provider, error) {
			return newFactory().Create(ctx, name, cfg)
		},
		OpenStore:    kv.Open,
		OpenHistory:  session.NewStoreWithPath,
		NewKeyStore:  keys.NewStore,
		NewDisplayer: display.New,
		CanDisplay:   display.Supported,
	}
}

func newFactory() *provider.Factory {
	f := provider.NewFactory()
	f.Register(gemini.Name, gemini.Constructor)
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timewarp",
		Short: "Send a portrait back (or forward) in time",
		Long: `timewarp transforms a portrait photo into a chosen era using the Gemini
image model. Each transformation renders several style variants, watermarks
them and counts once against a daily limit.

Examples:
  timewarp eras
  timewarp transform me.jpg --era victorian --show
  timewarp edit timewarp_studio_victorian_era_1_raw.png "add a top hat"
  timewarp quota
  timewarp interactive`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetIn(app.In)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default $HOME/.timewarp.yaml)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flagLang, "lang", "", "language (en, fr)")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key (defaults to the key store, then GEMINI_API_KEY)")

	cmd.AddCommand(
		newTransformCmd(app),
		newEditCmd(app),
		newStoryCmd(app),
		newSuggestCmd(app),
		newErasCmd(app),
		newQuotaCmd(app),
		newBatchCmd(app),
		newHistoryCmd(app),
		newUndoCmd(app),
		newKeysCmd(app),
		newInteractiveCmd(app),
	)

	return cmd
}

// flagBindings maps config keys onto the persistent flags that override them.
var flagBindings = map[string]string{
	"log.level":          "log-level",
	"generation.api_key": "api-key",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagBindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// loadConfig resolves defaults, the config file, .env, TIMEWARP_* variables
// and flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	config.LoadDotEnv()

	v := viper.New()
	if err := config.Init(v, flagConfig); err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if flagLang != "" {
		cfg.Language = content.MatchLanguage(flagLang)
	}
	if flagOutput != "" {
		cfg.Output.Dir = flagOutput
	}

	if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	logging.SetOutput(cmd.ErrOrStderr())
	return cfg, nil
}

// runtime is everything one command needs, built from the resolved config.
type runtime struct {
	cfg      *config.Config
	catalog  *content.Catalog
	store    kv.Store
	ledger   *ledger.Ledger
	orch     *orchestrator.Orchestrator
	aux      *orchestrator.Aux
	loader   *image.Loader
	saver    *image.Saver
	history  *session.Store
	messages content.Messages
}

func (rt *runtime) Close() {
	if rt.history != nil {
		rt.history.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

type runtimeNeeds struct {
	ledger   bool
	provider bool
	history  bool
}

func newRuntime(ctx context.Context, cmd *cobra.Command, app *App, needs runtimeNeeds) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	catalog, err := content.Load(cfg.ErasFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load eras: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		catalog:  catalog,
		loader:   image.NewLoader(),
		saver:    image.NewSaver(cfg.Output.KeepRaw),
		messages: catalog.Messages(cfg.Language),
	}

	if needs.ledger || needs.provider {
		store, err := app.OpenStore(ctx, cfg.KVOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open usage store: %w", err)
		}
		rt.store = store
		rt.ledger = ledger.New(store,
			ledger.WithLimit(cfg.Quota.DailyLimit),
			ledger.WithKey(cfg.Quota.StorageKey),
		)
	}

	if needs.history {
		hist, err := app.OpenHistory(cfg.History.Path)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		rt.history = hist
	}

	if needs.provider {
		prov, err := newProvider(ctx, app, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}

		stamper := watermark.New(
			watermark.WithText(cfg.Watermark.Text),
			watermark.WithOpacity(cfg.Watermark.Opacity),
		)
		prompts := prompt.New(catalog.Phrases())

		rt.orch = orchestrator.New(orchestrator.Deps{
			Ledger:    rt.ledger,
			Prompts:   prompts,
			Generator: prov,
			Stamper:   stamper,
		}, orchestrator.WithVariants(cfg.Generation.Variants))
		rt.aux = orchestrator.NewAux(orchestrator.AuxDeps{
			Editor:      prov,
			Storyteller: prov,
			Suggester:   prov,
			Prompts:     prompts,
			Stamper:     stamper,
		}, orchestrator.WithSuggestionLimit(cfg.Generation.SuggestionLimit))
	}

	return rt, nil
}

func newProvider(ctx context.Context, app *App, cfg *config.Config) (provider.Provider, error) {
	keyStore, err := app.NewKeyStore()
	if err != nil {
		logging.Log.WithError(err).Debug("Key store unavailable")
		keyStore = nil
	}

	apiKey, source, err := keys.Resolve(cfg.Generation.APIKey, keyStore, cfg.Generation.Provider, apiKeyEnvVars...)
	if err != nil {
		return nil, err
	}
	logging.Log.WithField("source", source).Debug("API key resolved")

	prov, err := app.NewProvider(ctx, cfg.Generation.Provider, &provider.Config{
		APIKey:            apiKey,
		BaseURL:           cfg.Generation.BaseURL,
		TimeoutSec:        cfg.Generation.TimeoutSec,
		ImageModel:        cfg.Generation.ImageModel,
		TextModel:         cfg.Generation.TextModel,
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return prov, nil
}

func (rt *runtime) era(id string) (*models.Era, error) {
	if id == "" {
		return nil, fmt.Errorf("--era is required (see 'timewarp eras')")
	}
	return rt.catalog.Era(id)
}

// displayer returns nil unless images were asked for and the terminal can
// render them.
func (rt *runtime) displayer(app *App, want bool) *display.Displayer {
	if !want || !app.CanDisplay(app.Out) {
		return nil
	}
	return app.NewDisplayer(app.Out, display.Width(app.Out, 80)/2)
}

// userError carries a localized message while keeping the technical cause
// reachable through errors.Is and errors.As.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.err }

// localize swaps user-facing failures for their localized text.
func localize(err error, m content.Messages) error {
	var f *orchestrator.Failure
	if errors.As(err, &f) {
		return &userError{msg: f.UserMessage(m), err: err}
	}
	var auxErr *orchestrator.AuxError
	if errors.As(err, &auxErr) {
		return &userError{msg: auxErr.UserMessage(m), err: err}
	}
	switch {
	case errors.Is(err, image.ErrNotImage):
		return &userError{msg: m.NotImage, err: err}
	case errors.Is(err, image.ErrTooLarge):
		return &userError{msg: m.TooLarge, err: err}
	case errors.Is(err, image.ErrReadImage):
		return &userError{msg: m.ReadError, err: err}
	}
	return err
}

// printRemaining writes the quota line, green while transformations are
// left and red once the limit is reached.
func printRemaining(out io.Writer, m content.Messages, remaining int) {
	c := color.New(color.FgGreen)
	if remaining == 0 {
		c = color.New(color.FgRed, color.Bold)
	}
	c.Fprintln(out, m.RemainingFor(remaining))
}
