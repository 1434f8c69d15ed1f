package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fcolor "github.com/fatih/color"

	"github.com/timewarp-studio/timewarp/internal/content"
	timage "github.com/timewarp-studio/timewarp/internal/image"
	"github.com/timewarp-studio/timewarp/internal/keys"
	"github.com/timewarp-studio/timewarp/internal/kv"
	"github.com/timewarp-studio/timewarp/internal/orchestrator"
	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/internal/session"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

func TestMain(m *testing.M) {
	fcolor.NoColor = true
	os.Exit(m.Run())
}

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	generateFunc func(ctx context.Context, req *models.GenerationRequest) (*models.Image, error)
	editFunc     func(ctx context.Context, req *models.EditRequest) (*models.Image, error)
	storyFunc    func(ctx context.Context, req *models.StoryRequest) (string, error)
	suggestFunc  func(ctx context.Context, req *models.SuggestionRequest) ([]string, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Generate(ctx context.Context, req *models.GenerationRequest) (*models.Image, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return testPNG(), nil
}

func (m *mockProvider) Edit(ctx context.Context, req *models.EditRequest) (*models.Image, error) {
	if m.editFunc != nil {
		return m.editFunc(ctx, req)
	}
	return testPNG(), nil
}

func (m *mockProvider) Story(ctx context.Context, req *models.StoryRequest) (string, error) {
	if m.storyFunc != nil {
		return m.storyFunc(ctx, req)
	}
	return "Once upon a time in London.", nil
}

func (m *mockProvider) Suggest(ctx context.Context, req *models.SuggestionRequest) ([]string, error) {
	if m.suggestFunc != nil {
		return m.suggestFunc(ctx, req)
	}
	return []string{"Add a monocle", "Make it sepia"}, nil
}

func pngBytes() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func testPNG() *models.Image {
	return &models.Image{Data: pngBytes(), MIMEType: "image/png"}
}

// resetFlags resets all global flags to their default values.
func resetFlags() {
	flagConfig = ""
	flagLogLevel = ""
	flagLang = ""
	flagAPIKey = ""
	flagEra = ""
	flagOutput = ""
	flagModifier = ""
	flagShow = false
	flagYes = false
	flagStopOnError = false
	flagDelay = 0
}

type testEnv struct {
	dir    string
	outDir string
	out    *bytes.Buffer
	app    *App
	prov   *mockProvider
	photo  string
}

// newTestEnv writes a config pointing every store at a temp dir and
// returns an App whose provider is a mock.
func newTestEnv(t *testing.T, extraConfig string) *testEnv {
	t.Helper()
	resetFlags()

	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		outDir: filepath.Join(dir, "out"),
		out:    &bytes.Buffer{},
		prov:   &mockProvider{},
		photo:  filepath.Join(dir, "me.png"),
	}

	cfg := fmt.Sprintf(`storage:
  backend: sqlite
  sqlite_path: %s
history:
  path: %s
  image_dir: %s
output:
  dir: %s
generation:
  api_key: test-key
log:
  level: error
%s`,
		filepath.Join(dir, "usage.db"),
		filepath.Join(dir, "sessions.db"),
		filepath.Join(dir, "images"),
		env.outDir,
		extraConfig,
	)
	cfgPath := filepath.Join(dir, "timewarp.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.photo, pngBytes(), 0644); err != nil {
		t.Fatal(err)
	}

	env.app = &App{
		In:  strings.NewReader(""),
		Out: env.out,
		Err: env.out,
		NewProvider: func(_ context.Context, _ string, cfg *provider.Config) (provider.Provider, error) {
			if cfg.APIKey == "" {
				return nil, provider.ErrAPIKeyRequired
			}
			return env.prov, nil
		},
		OpenStore:    kv.Open,
		OpenHistory:  session.NewStoreWithPath,
		NewKeyStore:  func() (*keys.Store, error) { return keys.NewStoreAt(filepath.Join(dir, "keys")), nil },
		NewDisplayer: nil,
		CanDisplay:   func(_ io.Writer) bool { return false },
	}
	return env
}

func (e *testEnv) run(args ...string) error {
	resetFlags()
	cmd := newRootCmd(e.app)
	cmd.SetArgs(append([]string{"--config", filepath.Join(e.dir, "timewarp.yaml")}, args...))
	return cmd.Execute()
}

func TestRootCommandHasSubcommands(t *testing.T) {
	env := newTestEnv(t, "")
	cmd := newRootCmd(env.app)

	want := []string{"transform", "edit", "story", "suggest", "eras", "quota", "batch", "history", "undo", "keys", "interactive"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestErasCommand(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("eras"); err != nil {
		t.Fatalf("eras failed: %v", err)
	}

	out := env.out.String()
	for _, want := range []string{"victorian", "Victorian Era", "cyberpunk"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestErasCommandFrench(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("eras", "--lang", "fr-CA"); err != nil {
		t.Fatalf("eras failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "Époque Victorienne") {
		t.Errorf("expected French era names:\n%s", env.out.String())
	}
}

func TestTransformCommand(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("transform", env.photo, "--era", "victorian"); err != nil {
		t.Fatalf("transform failed: %v\n%s", err, env.out.String())
	}

	for n := 1; n <= 3; n++ {
		for _, suffix := range []string{"", "_raw"} {
			path := filepath.Join(env.outDir, fmt.Sprintf("timewarp_studio_victorian_era_%d%s.png", n, suffix))
			if _, err := os.Stat(path); err != nil {
				t.Errorf("expected %s: %v", path, err)
			}
		}
	}

	out := env.out.String()
	for _, want := range []string{
		"Transformation Complete!",
		"You have arrived in the Victorian Era.",
		"You have 4 transformations left today.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTransformCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    func(e *testEnv) []string
		wantErr string
	}{
		{
			name:    "missing era",
			args:    func(e *testEnv) []string { return []string{"transform", e.photo} },
			wantErr: "--era is required",
		},
		{
			name:    "unknown era",
			args:    func(e *testEnv) []string { return []string{"transform", e.photo, "--era", "jurassic"} },
			wantErr: "jurassic",
		},
		{
			name: "not an image",
			args: func(e *testEnv) []string {
				path := filepath.Join(e.dir, "notes.txt")
				os.WriteFile(path, []byte("hello there"), 0644)
				return []string{"transform", path, "--era", "victorian"}
			},
			wantErr: "Please select an image file",
		},
		{
			name:    "missing file",
			args:    func(e *testEnv) []string { return []string{"transform", filepath.Join(e.dir, "nope.png"), "--era", "victorian"} },
			wantErr: "",
		},
		{
			name:    "no arguments",
			args:    func(_ *testEnv) []string { return []string{"transform"} },
			wantErr: "accepts 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			err := env.run(tt.args(env)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTransformNoImageProduced(t *testing.T) {
	env := newTestEnv(t, "")
	env.prov.generateFunc = func(_ context.Context, _ *models.GenerationRequest) (*models.Image, error) {
		return nil, nil
	}

	err := env.run("transform", env.photo, "--era", "victorian")
	if err == nil {
		t.Fatal("expected error")
	}
	var f *orchestrator.Failure
	if !errors.As(err, &f) || f.Kind != orchestrator.KindNoImage {
		t.Errorf("expected no-image failure, got %v", err)
	}

	// nothing delivered, nothing charged
	env.out.Reset()
	if err := env.run("quota"); err != nil {
		t.Fatalf("quota failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "You have 5 transformations left today.") {
		t.Errorf("quota changed after failed run:\n%s", env.out.String())
	}
}

func TestTransformLimitReached(t *testing.T) {
	env := newTestEnv(t, "quota:\n  daily_limit: 1\n")

	if err := env.run("transform", env.photo, "--era", "cyberpunk"); err != nil {
		t.Fatalf("first transform failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "You have 0 transformations left today.") {
		t.Errorf("expected zero remaining:\n%s", env.out.String())
	}

	calls := 0
	env.prov.generateFunc = func(_ context.Context, _ *models.GenerationRequest) (*models.Image, error) {
		calls++
		return testPNG(), nil
	}
	err := env.run("transform", env.photo, "--era", "cyberpunk")
	if err == nil {
		t.Fatal("expected limit error")
	}
	if !strings.Contains(err.Error(), "daily limit of 1 transformations") {
		t.Errorf("error = %q", err)
	}
	if calls != 0 {
		t.Errorf("generator called %d times past the limit", calls)
	}
}

func TestTransformMissingAPIKey(t *testing.T) {
	env := newTestEnv(t, "")
	// Overwrite the config without an api_key.
	cfg := fmt.Sprintf("storage:\n  backend: memory\nhistory:\n  path: %s\n", filepath.Join(env.dir, "sessions.db"))
	if err := os.WriteFile(filepath.Join(env.dir, "timewarp.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("TIMEWARP_GENERATION_API_KEY", "")

	err := env.run("transform", env.photo, "--era", "victorian")
	if !errors.Is(err, keys.ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "timewarp keys set") {
		t.Errorf("error should point at 'timewarp keys set': %v", err)
	}
}

func TestTransformUsesStoredKey(t *testing.T) {
	env := newTestEnv(t, "")
	cfg := fmt.Sprintf("storage:\n  backend: memory\nhistory:\n  path: %s\noutput:\n  dir: %s\n",
		filepath.Join(env.dir, "sessions.db"), env.outDir)
	if err := os.WriteFile(filepath.Join(env.dir, "timewarp.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("TIMEWARP_GENERATION_API_KEY", "")

	if err := env.run("keys", "set", "gemini", "stored-key-123456"); err != nil {
		t.Fatalf("keys set failed: %v", err)
	}
	var gotKey string
	env.app.NewProvider = func(_ context.Context, _ string, cfg *provider.Config) (provider.Provider, error) {
		gotKey = cfg.APIKey
		return env.prov, nil
	}
	if err := env.run("transform", env.photo, "--era", "victorian"); err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if gotKey != "stored-key-123456" {
		t.Errorf("provider got key %q", gotKey)
	}
}

func TestQuotaCommand(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("quota"); err != nil {
		t.Fatalf("quota failed: %v", err)
	}
	out := env.out.String()
	if !strings.Contains(out, "You have 5 transformations left today.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "Daily limit: 5") {
		t.Errorf("missing limit line:\n%s", out)
	}
}

func TestQuotaReset(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("transform", env.photo, "--era", "antiquity"); err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	env.out.Reset()
	if err := env.run("quota", "reset", "--yes"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "You have 5 transformations left today.") {
		t.Errorf("quota not reset:\n%s", env.out.String())
	}
}

func TestEditCommand(t *testing.T) {
	env := newTestEnv(t, "")
	var gotInstruction string
	env.prov.editFunc = func(_ context.Context, req *models.EditRequest) (*models.Image, error) {
		gotInstruction = req.Instruction
		return testPNG(), nil
	}

	if err := env.run("edit", env.photo, "add", "a", "top", "hat"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if !strings.Contains(gotInstruction, "add a top hat") {
		t.Errorf("instruction = %q", gotInstruction)
	}
	if _, err := os.Stat(filepath.Join(env.outDir, "timewarp_studio_magic_edit_1.png")); err != nil {
		t.Errorf("edit output missing: %v", err)
	}

	// edits are free
	env.out.Reset()
	if err := env.run("quota"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(env.out.String(), "You have 5 transformations left today.") {
		t.Errorf("edit consumed quota:\n%s", env.out.String())
	}
}

func TestEditCommandNamedByEra(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("edit", env.photo, "make it sepia", "--era", "twenties"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(env.outDir, "timewarp_studio_*_edit_1.png"))
	if len(matches) != 1 {
		t.Errorf("expected one era-named edit, got %v", matches)
	}
}

func TestEditCommandFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.prov.editFunc = func(_ context.Context, _ *models.EditRequest) (*models.Image, error) {
		return nil, nil
	}

	err := env.run("edit", env.photo, "add a hat")
	if err == nil {
		t.Fatal("expected error")
	}
	var auxErr *orchestrator.AuxError
	if !errors.As(err, &auxErr) {
		t.Errorf("expected AuxError, got %T: %v", err, err)
	}
}

func TestStoryCommand(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("story", env.photo, "--era", "victorian"); err != nil {
		t.Fatalf("story failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "Once upon a time in London.") {
		t.Errorf("story missing:\n%s", env.out.String())
	}
}

func TestStoryCommandRequiresEra(t *testing.T) {
	env := newTestEnv(t, "")
	err := env.run("story", env.photo)
	if err == nil || !strings.Contains(err.Error(), "--era is required") {
		t.Errorf("expected era error, got %v", err)
	}
}

func TestSuggestCommand(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("suggest", env.photo, "--era", "victorian"); err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	out := env.out.String()
	if !strings.Contains(out, "1. Add a monocle") || !strings.Contains(out, "2. Make it sepia") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestBatchCommand(t *testing.T) {
	env := newTestEnv(t, "")
	list := filepath.Join(env.dir, "list.txt")
	content := fmt.Sprintf("# portraits\n%s victorian\n%s cyberpunk\n", env.photo, env.photo)
	if err := os.WriteFile(list, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := env.run("batch", list); err != nil {
		t.Fatalf("batch failed: %v\n%s", err, env.out.String())
	}
	if !strings.Contains(env.out.String(), "Successful: 2/2 transformations (6 images)") {
		t.Errorf("unexpected summary:\n%s", env.out.String())
	}
}

func TestBatchCommandStopsAtLimit(t *testing.T) {
	env := newTestEnv(t, "quota:\n  daily_limit: 1\n")
	list := filepath.Join(env.dir, "list.txt")
	content := fmt.Sprintf("%s victorian\n%s cyberpunk\n%s antiquity\n", env.photo, env.photo, env.photo)
	if err := os.WriteFile(list, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	err := env.run("batch", list)
	if err == nil {
		t.Fatal("expected batch to stop")
	}
	out := env.out.String()
	if !strings.Contains(out, "Successful: 1/3") || !strings.Contains(out, "Skipped: 1") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestBatchCommandBadFile(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("batch", filepath.Join(env.dir, "missing.txt")); err == nil {
		t.Error("expected error for missing batch file")
	}
}

func TestHistoryAndUndo(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.run("history"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "No sessions yet.") {
		t.Errorf("expected empty history:\n%s", env.out.String())
	}

	if err := env.run("transform", env.photo, "--era", "victorian"); err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	env.out.Reset()
	if err := env.run("history"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	fields := strings.Fields(env.out.String())
	if len(fields) < 2 || fields[1] != "victorian" {
		t.Fatalf("unexpected history:\n%s", env.out.String())
	}
	prefix := fields[0]

	env.out.Reset()
	if err := env.run("history", prefix); err != nil {
		t.Fatalf("history %s failed: %v", prefix, err)
	}
	out := env.out.String()
	if strings.Count(out, "transform") != 3 {
		t.Errorf("expected three variants:\n%s", out)
	}
	if !strings.Contains(out, "* [1]") {
		t.Errorf("first variant should be current:\n%s", out)
	}

	// no edits yet
	if err := env.run("undo", prefix); !errors.Is(err, session.ErrAtFirstImage) {
		t.Errorf("undo error = %v, want ErrAtFirstImage", err)
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	env := newTestEnv(t, "")
	err := env.run("history", "deadbeef")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestKeysCommands(t *testing.T) {
	env := newTestEnv(t, "")

	if err := env.run("keys", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(env.out.String(), "No keys stored.") {
		t.Errorf("unexpected list output:\n%s", env.out.String())
	}

	env.out.Reset()
	if err := env.run("keys", "set", "gemini", "abcd1234efgh5678"); err != nil {
		t.Fatalf("keys set failed: %v", err)
	}

	env.out.Reset()
	if err := env.run("keys", "get", "gemini"); err != nil {
		t.Fatalf("keys get failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "abcd********5678") {
		t.Errorf("key not masked:\n%s", env.out.String())
	}

	env.out.Reset()
	if err := env.run("keys", "list"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(env.out.String()) != "gemini" {
		t.Errorf("unexpected list output:\n%s", env.out.String())
	}

	if err := env.run("keys", "delete", "gemini"); err != nil {
		t.Fatalf("keys delete failed: %v", err)
	}
	if err := env.run("keys", "get", "gemini"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestKeysSetFromStdin(t *testing.T) {
	env := newTestEnv(t, "")
	env.app.In = strings.NewReader("piped-key-0000\n")

	if err := env.run("keys", "set", "gemini"); err != nil {
		t.Fatalf("keys set failed: %v", err)
	}
	store, _ := env.app.NewKeyStore()
	key, err := store.Get("gemini")
	if err != nil {
		t.Fatal(err)
	}
	if key != "piped-key-0000" {
		t.Errorf("stored key = %q", key)
	}
}

func TestKeysSetEmpty(t *testing.T) {
	env := newTestEnv(t, "")
	env.app.In = strings.NewReader("\n")
	if err := env.run("keys", "set", "gemini"); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestInteractiveCommand(t *testing.T) {
	env := newTestEnv(t, "")
	env.app.In = strings.NewReader("quota\nquit\n")

	if err := env.run("interactive"); err != nil {
		t.Fatalf("interactive failed: %v", err)
	}
	out := env.out.String()
	if !strings.Contains(out, "Time Warp Studio interactive mode") {
		t.Errorf("missing welcome:\n%s", out)
	}
	if !strings.Contains(out, "You have 5 transformations left today.") {
		t.Errorf("missing quota:\n%s", out)
	}
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, "quota:\n  daily_limit: 0\n")
	if err := env.run("quota"); err == nil {
		t.Error("expected validation error")
	}
}

func TestLocalize(t *testing.T) {
	catalog, err := content.Default()
	if err != nil {
		t.Fatal(err)
	}
	m := catalog.Messages(models.LangEnglish)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "limit reached",
			err:  &orchestrator.Failure{Kind: orchestrator.KindLimitReached, Limit: 5},
			want: m.LimitReachedFor(5),
		},
		{
			name: "no image",
			err:  &orchestrator.Failure{Kind: orchestrator.KindNoImage, Err: orchestrator.ErrNoImageProduced},
			want: m.NoImage,
		},
		{
			name: "not an image",
			err:  fmt.Errorf("load: %w", timage.ErrNotImage),
			want: m.NotImage,
		},
		{
			name: "too large",
			err:  timage.ErrTooLarge,
			want: m.TooLarge,
		},
		{
			name: "passthrough",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := localize(tt.err, m)
			if got.Error() != tt.want {
				t.Errorf("localize() = %q, want %q", got.Error(), tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("localized error should wrap the original")
			}
		})
	}
}

func TestConfirmWithoutTerminal(t *testing.T) {
	var out bytes.Buffer
	if !confirm(strings.NewReader("n\n"), &out, "Proceed?") {
		t.Error("confirm should proceed when stdin is not a terminal")
	}
	if out.Len() != 0 {
		t.Errorf("confirm should not prompt without a terminal, wrote %q", out.String())
	}
}

func TestBindFlags(t *testing.T) {
	env := newTestEnv(t, "")
	var gotKey string
	env.app.NewProvider = func(_ context.Context, _ string, cfg *provider.Config) (provider.Provider, error) {
		gotKey = cfg.APIKey
		return env.prov, nil
	}

	if err := env.run("story", env.photo, "--era", "victorian", "--api-key", "from-flag"); err != nil {
		t.Fatalf("story failed: %v", err)
	}
	if gotKey != "from-flag" {
		t.Errorf("--api-key not applied, provider got %q", gotKey)
	}
}
