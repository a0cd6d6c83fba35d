package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/weftline/weft/catalog"
	"github.com/weftline/weft/config"
	"github.com/weftline/weft/provenance"
	"github.com/weftline/weft/provider"
	"github.com/weftline/weft/weaver"
)

// fakeGen prefixes translations with the language code and counts calls.
type fakeGen struct {
	calls     int64
	failTexts map[string]bool

	mu      sync.Mutex
	reviews []provider.ReviewRequest
}

func (g *fakeGen) Translate(ctx context.Context, req provider.Request) (string, error) {
	atomic.AddInt64(&g.calls, 1)
	if g.failTexts[req.Text] {
		return "", errors.New("generation failed")
	}
	return "[" + req.Language + "] " + req.Text, nil
}

func (g *fakeGen) Review(ctx context.Context, req provider.ReviewRequest) (provider.Review, error) {
	atomic.AddInt64(&g.calls, 1)
	g.mu.Lock()
	g.reviews = append(g.reviews, req)
	g.mu.Unlock()
	return provider.Review{Improved: req.Existing}, nil
}

// newProject lays out a project directory with a source catalog.
func newProject(t *testing.T, sourceJSON string) (pipelineDeps, *fakeGen) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Languages = []string{"ja"}

	if err := os.MkdirAll(filepath.Join(root, cfg.CatalogDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.CatalogPath(root, "en"), []byte(sourceJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	gen := &fakeGen{}
	return pipelineDeps{cfg: cfg, root: root, gen: gen}, gen
}

func loadLock(t *testing.T, deps pipelineDeps) *provenance.File {
	t.Helper()
	lock, err := provenance.Load(deps.root)
	if err != nil {
		t.Fatal(err)
	}
	return lock
}

func readCatalog(t *testing.T, deps pipelineDeps, lang string) string {
	t.Helper()
	data, err := os.ReadFile(deps.cfg.CatalogPath(deps.root, lang))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestTranslateLanguage_NewCatalog(t *testing.T) {
	deps, gen := newProject(t, `{
    "a": {
        "b": "Hello"
    }
}
`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	outcome, err := translateLanguage(context.Background(), deps, lock, "ja", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 1 || outcome.Done != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if atomic.LoadInt64(&gen.calls) != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}

	want := `{
    "a": {
        "b": "[ja] Hello"
    }
}
`
	if got := readCatalog(t, deps, "ja"); got != want {
		t.Errorf("catalog:\n%s\nwant:\n%s", got, want)
	}

	// Provenance records the source text the translation was made from.
	lock = loadLock(t, deps)
	if src := lock.Source("ja", "a.b"); src != "Hello" {
		t.Errorf("provenance = %q", src)
	}
}

func TestTranslateLanguage_UpToDateMakesNoCalls(t *testing.T) {
	deps, gen := newProject(t, `{"greeting": "Hello"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}
	calls := atomic.LoadInt64(&gen.calls)

	// Second run: everything is translated and provenance matches.
	outcome, err := translateLanguage(context.Background(), deps, lock, "ja", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 0 {
		t.Errorf("outcome = %+v, want nothing attempted", outcome)
	}
	if atomic.LoadInt64(&gen.calls) != calls {
		t.Errorf("generator called again on an up-to-date catalog")
	}
}

func TestTranslateLanguage_RetranslatesOutdated(t *testing.T) {
	deps, gen := newProject(t, `{"greeting": "Hello"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}

	// Source text changes under the same key.
	if err := os.WriteFile(deps.cfg.CatalogPath(deps.root, "en"), []byte(`{"greeting": "Hello there"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	outcome, err := translateLanguage(context.Background(), deps, lock, "ja", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 1 || outcome.Done != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if atomic.LoadInt64(&gen.calls) != 2 {
		t.Errorf("generator calls = %d, want 2", gen.calls)
	}
	if got := readCatalog(t, deps, "ja"); got != `{
    "greeting": "[ja] Hello there"
}
` {
		t.Errorf("catalog = %s", got)
	}
}

func TestTranslateLanguage_PartialFailureKeepsSuccesses(t *testing.T) {
	deps, gen := newProject(t, `{
    "one": "One",
    "two": "Two",
    "three": "Three"
}
`)
	gen.failTexts = map[string]bool{"Two": true}
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	outcome, err := translateLanguage(context.Background(), deps, lock, "ja", opts)
	if err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}
	if outcome.Attempted != 3 || outcome.Done != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}

	cat, err := catalog.ParseFile(deps.cfg.CatalogPath(deps.root, "ja"))
	if err != nil {
		t.Fatal(err)
	}
	entries := cat.Flatten()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	// The failed key stays missing so the next run picks it up.
	lock = loadLock(t, deps)
	if lock.Source("ja", "two") != "" {
		t.Error("failed key must not get provenance")
	}

	// Next run only attempts the failed key.
	gen.failTexts = nil
	outcome, err = translateLanguage(context.Background(), deps, lock, "ja", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 1 || outcome.Done != 1 {
		t.Fatalf("second outcome = %+v", outcome)
	}
}

func TestTranslateLanguage_AllFailedReturnsError(t *testing.T) {
	deps, gen := newProject(t, `{"one": "One"}`)
	gen.failTexts = map[string]bool{"One": true}
	lock := loadLock(t, deps)

	outcome, err := translateLanguage(context.Background(), deps, lock, "ja", weaver.Options{Concurrency: 1})
	if err == nil {
		t.Fatal("expected error when every translation fails")
	}
	if outcome.Done != 0 || outcome.Attempted != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if _, statErr := os.Stat(deps.cfg.CatalogPath(deps.root, "ja")); statErr == nil {
		t.Error("no catalog should be written when nothing succeeded")
	}
}

func TestTranslateLanguage_PreservesOrphanKeys(t *testing.T) {
	deps, _ := newProject(t, `{"current": "Current"}`)
	lock := loadLock(t, deps)

	// A translation for a key the source no longer has.
	if err := os.WriteFile(deps.cfg.CatalogPath(deps.root, "ja"), []byte(`{"legacy": "レガシー"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", weaver.Options{Concurrency: 1}); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.ParseFile(deps.cfg.CatalogPath(deps.root, "ja"))
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]string{}
	for _, e := range cat.Flatten() {
		values[e.Key] = e.Value
	}
	if values["current"] != "[ja] Current" || values["legacy"] != "レガシー" {
		t.Errorf("values = %v", values)
	}
}

func TestTranslateLanguage_CleansDeletedKeysFromLock(t *testing.T) {
	deps, _ := newProject(t, `{"old": "Old", "keep": "Keep"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}
	if lock.Source("ja", "old") == "" {
		t.Fatal("expected provenance for the translated key")
	}

	// The key is renamed in the source.
	if err := os.WriteFile(deps.cfg.CatalogPath(deps.root, "en"), []byte(`{"renamed": "Old", "keep": "Keep"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}

	lock = loadLock(t, deps)
	if lock.Source("ja", "old") != "" {
		t.Error("lock kept provenance for a deleted key")
	}
	if lock.Source("ja", "renamed") != "Old" || lock.Source("ja", "keep") != "Keep" {
		t.Errorf("sources = %v", lock.Sources["ja"])
	}
}

func TestTranslateLanguage_NoWorkStillCleansLock(t *testing.T) {
	deps, gen := newProject(t, `{"gone": "Gone", "keep": "Keep"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}
	calls := atomic.LoadInt64(&gen.calls)

	// A key is deleted; everything remaining is already translated, so the
	// run has nothing to generate but must still persist the cleanup.
	if err := os.WriteFile(deps.cfg.CatalogPath(deps.root, "en"), []byte(`{"keep": "Keep"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	outcome, err := translateLanguage(context.Background(), deps, lock, "ja", opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 0 || atomic.LoadInt64(&gen.calls) != calls {
		t.Fatalf("outcome = %+v, calls = %d", outcome, gen.calls)
	}

	lock = loadLock(t, deps)
	if lock.Source("ja", "gone") != "" {
		t.Error("deleted key survived in the saved lock")
	}
	if lock.Source("ja", "keep") != "Keep" {
		t.Errorf("sources = %v", lock.Sources["ja"])
	}
}

func TestReviewLanguage_Selection(t *testing.T) {
	deps, gen := newProject(t, `{"one": "One", "two": "Two"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}

	// Everything is up to date: the default review selects nothing.
	outcome, err := reviewLanguage(context.Background(), deps, lock, "ja", false, opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 0 {
		t.Fatalf("outcome = %+v, want no pairs selected", outcome)
	}

	// --all reviews every translated key.
	outcome, err = reviewLanguage(context.Background(), deps, lock, "ja", true, opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Attempted != 2 || outcome.Reviewed != 2 || outcome.Changed != 0 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(gen.reviews) != 2 {
		t.Errorf("reviews = %d", len(gen.reviews))
	}
}

func TestReviewLanguage_RefreshesProvenance(t *testing.T) {
	deps, _ := newProject(t, `{"greeting": "Hello"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}

	// Source changed: the entry is outdated and the default review picks
	// it up.
	if err := os.WriteFile(deps.cfg.CatalogPath(deps.root, "en"), []byte(`{"greeting": "Hello!"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	outcome, err := reviewLanguage(context.Background(), deps, lock, "ja", false, opts)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Reviewed != 1 {
		t.Fatalf("outcome = %+v", outcome)
	}

	// The reviewer kept the translation, but the provenance now points at
	// the new source text, so the key reads as up to date.
	st, err := statusForLanguage(deps, loadLock(t, deps), "ja")
	if err != nil {
		t.Fatal(err)
	}
	if st.Outdated != 0 || st.UpToDate != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStatusForLanguage(t *testing.T) {
	deps, _ := newProject(t, `{"one": "One", "two": "Two", "three": "Three"}`)
	lock := loadLock(t, deps)
	opts := weaver.Options{Concurrency: 1}

	// No catalog yet: everything is missing.
	st, err := statusForLanguage(deps, lock, "ja")
	if err != nil {
		t.Fatal(err)
	}
	if st.Missing != 3 || st.Outdated != 0 || st.UpToDate != 0 {
		t.Fatalf("status = %+v", st)
	}

	if _, err := translateLanguage(context.Background(), deps, lock, "ja", opts); err != nil {
		t.Fatal(err)
	}
	// One source string changes.
	if err := os.WriteFile(deps.cfg.CatalogPath(deps.root, "en"), []byte(`{"one": "One!", "two": "Two", "three": "Three"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err = statusForLanguage(deps, loadLock(t, deps), "ja")
	if err != nil {
		t.Fatal(err)
	}
	if st.Missing != 0 || st.Outdated != 1 || st.UpToDate != 2 {
		t.Fatalf("status = %+v", st)
	}
}

func TestResolveLanguages(t *testing.T) {
	cfg := config.Default()
	cfg.Languages = []string{"ja", "de"}

	langs, err := resolveLanguages(cfg, "")
	if err != nil || len(langs) != 2 {
		t.Fatalf("langs = %v, err = %v", langs, err)
	}

	langs, err = resolveLanguages(cfg, " fr , pt-BR ")
	if err != nil {
		t.Fatal(err)
	}
	if len(langs) != 2 || langs[0] != "fr" || langs[1] != "pt-BR" {
		t.Fatalf("langs = %v", langs)
	}

	cfg.Languages = nil
	if _, err := resolveLanguages(cfg, ""); err == nil {
		t.Error("expected error when no languages are configured")
	}
}
