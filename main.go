// weft — incremental AI translation for JSON string catalogs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weftline/weft/config"
	"github.com/weftline/weft/glossary"
	"github.com/weftline/weft/i18n"
	"github.com/weftline/weft/langmeta"
	"github.com/weftline/weft/provenance"
	"github.com/weftline/weft/provider"
	"github.com/weftline/weft/vecstore"
	"github.com/weftline/weft/weaver"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "weft",
		Short: "Incremental AI translation for JSON string catalogs",
		Long: `weft — incremental AI translation for JSON string catalogs.

Keeps nested {lang}.json catalogs in sync with the source language:
only missing and outdated strings are sent for translation, augmented
with glossary terms and similar approved translations retrieved from
a vector index.

Commands:
  status      Show per-language translation statistics
  translate   Translate missing and outdated strings
  review      Re-examine existing translations
  glossary    Manage mandatory term translations

AI Providers:
  openai         OpenAI — API key
  google         Google AI (Gemini) — API key
  anthropic      Anthropic (Claude) — API key
  groq           Groq — API key
  ollama         Ollama local server
  custom-openai  Custom OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global persistent flag — inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")

	root.AddCommand(
		newStatusCmd(),
		newTranslateCmd(),
		newReviewCmd(),
		newGlossaryCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("weft version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

// providerFlags are the provider-related overrides shared by translate and
// review.
type providerFlags struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	proxy   string
}

func addProviderFlags(cmd *cobra.Command, f *providerFlags) {
	cmd.Flags().StringVar(&f.name, "provider", "", "AI provider: openai, google, anthropic, groq, ollama, custom-openai")
	cmd.Flags().StringVar(&f.model, "model", "", "Model name (default: provider default)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (or WEFT_API_KEY env var)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Custom API base URL")
	cmd.Flags().StringVar(&f.proxy, "proxy", "", "HTTP/HTTPS proxy URL")
}

// loadProject loads .weft.yaml (or defaults) and applies flag overrides.
func loadProject(f providerFlags) (*config.File, error) {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if f.name != "" {
		cfg.Provider.Name = f.name
	}
	if f.model != "" {
		cfg.Provider.Model = f.model
	}
	if f.baseURL != "" {
		cfg.Provider.BaseURL = f.baseURL
	}
	if f.proxy != "" {
		cfg.Provider.Proxy = f.proxy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveLanguages picks targets from the --lang flag or the config.
func resolveLanguages(cfg *config.File, langFlag string) ([]string, error) {
	if langFlag != "" {
		var langs []string
		for _, l := range strings.Split(langFlag, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		return langs, nil
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("no target languages: set languages in %s or pass --lang", config.FileName)
	}
	return cfg.Languages, nil
}

// buildDeps wires the real provider client, similarity index, and glossary
// into pipeline dependencies.
func buildDeps(cfg *config.File, f providerFlags) (pipelineDeps, error) {
	prov, err := cfg.BuildProvider(cfg.ResolveAPIKey(f.apiKey))
	if err != nil {
		return pipelineDeps{}, err
	}
	client := provider.NewClient(prov)

	deps := pipelineDeps{cfg: cfg, root: rootDir, gen: client}

	if cfg.Vector.URL != "" {
		index, err := vecstore.New(cfg.VectorStoreConfig(), client)
		if err != nil {
			return pipelineDeps{}, err
		}
		deps.index = index
	}

	// Glossary trouble degrades to "no glossary" rather than failing the run.
	store := glossary.Open(cfg.GlossaryPath(rootDir))
	if err := store.Load(); err != nil {
		logWarning("glossary unavailable: %v", err)
	} else {
		deps.gloss = store
	}

	return deps, nil
}

// batchOptions assembles weaver options from config plus flags.
func batchOptions(cfg *config.File, deps pipelineDeps, concurrency int, verbose bool) weaver.Options {
	if concurrency == 0 {
		concurrency = cfg.Concurrency
	}
	return weaver.Options{
		Concurrency:  concurrency,
		SimilarLimit: cfg.SimilarLimit,
		UseVector:    deps.index != nil,
		UseGlossary:  true,
		ShowProgress: !verbose,
		OnLog: func(msg string) {
			logInfo("%s", msg)
		},
		OnWarn: func(msg string) {
			logWarning("%s", msg)
		},
		OnError: func(key string, err error) {
			logError("%s: %v", key, err)
		},
	}
}

// initIndex prepares the similarity index, degrading to no retrieval when
// the backend is unreachable.
func initIndex(ctx context.Context, deps *pipelineDeps) {
	if deps.index == nil {
		return
	}
	if err := deps.index.Init(ctx); err != nil {
		logWarning("%s", i18n.T("Similarity index unavailable, continuing without examples."))
		logWarning("%v", err)
		deps.index = nil
	}
}

// ---------------------------------------------------------------------------
// status (read-only: per-language diff statistics)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-language translation statistics",
		Long: `Show how each target catalog compares against the source language.

For every configured language, counts missing strings (no translation
yet), outdated strings (source text changed since translation), and
up-to-date strings. Does not modify any files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := loadProject(providerFlags{})
	if err != nil {
		return err
	}
	langs, err := resolveLanguages(cfg, "")
	if err != nil {
		return err
	}
	lock, err := provenance.Load(rootDir)
	if err != nil {
		return err
	}

	deps := pipelineDeps{cfg: cfg, root: rootDir}

	fmt.Printf("%-12s %-24s %9s %9s %11s\n", "Language", "Name", i18n.T("missing"), i18n.T("outdated"), i18n.T("up to date"))
	for _, lang := range langs {
		st, err := statusForLanguage(deps, lock, lang)
		if err != nil {
			return err
		}
		meta := langmeta.Resolve(lang)
		fmt.Printf("%-12s %-24s %9d %9d %11d\n", lang, meta.English, st.Missing, st.Outdated, st.UpToDate)
	}
	return nil
}

// ---------------------------------------------------------------------------
// translate (diff + translate missing/outdated + merge)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		pf          providerFlags
		langs       string
		contextHint string
		concurrency int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate missing and outdated strings",
		Long: `Translate missing and outdated catalog strings using AI.

Compares each target catalog against the source language and sends only
the strings that need work. Glossary terms are enforced and similar
approved translations are retrieved from the vector index as examples.
Successful translations are merged even when some strings fail.

Examples:
  # Translate all configured languages
  weft translate

  # Translate specific languages with a specific provider
  weft translate --lang ja,de --provider anthropic

  # Local model, higher parallelism
  weft translate --provider ollama --model llama3.2 --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(pf, langs, contextHint, concurrency, verbose)
		},
	}

	addProviderFlags(cmd, &pf)
	cmd.Flags().StringVar(&langs, "lang", "", "Languages to translate (comma-separated, default: all configured)")
	cmd.Flags().StringVar(&contextHint, "context", "", "Project-wide context hint for the translator")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent requests (default from config)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable detailed logging")

	return cmd
}

func runTranslate(pf providerFlags, langFlag, contextHint string, concurrency int, verbose bool) error {
	cfg, err := loadProject(pf)
	if err != nil {
		return err
	}
	langs, err := resolveLanguages(cfg, langFlag)
	if err != nil {
		return err
	}
	lock, err := provenance.Load(rootDir)
	if err != nil {
		return err
	}
	deps, err := buildDeps(cfg, pf)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	initIndex(ctx, &deps)
	defer closeIndex(deps)

	opts := batchOptions(cfg, deps, concurrency, verbose)
	opts.Context = contextHint
	opts.Verbose = verbose

	attempted, done := 0, 0
	for _, lang := range langs {
		meta := langmeta.Resolve(lang)
		logInfo(i18n.T("Translating to %s..."), meta.English)

		outcome, err := translateLanguage(ctx, deps, lock, lang, opts)
		attempted += outcome.Attempted
		done += outcome.Done
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logError("%s: %v", lang, err)
			continue
		}
		if outcome.Done > 0 {
			logSuccess("%s: "+i18n.N("Translated %d string", "Translated %d strings", outcome.Done), lang, outcome.Done)
		}
	}

	if attempted == 0 {
		logInfo("%s", i18n.T("Nothing to translate."))
		return nil
	}
	if done == 0 {
		return fmt.Errorf("%s", i18n.T("All translations failed."))
	}
	if done < attempted {
		logWarning("%d/%d strings translated", done, attempted)
	}
	return nil
}

func closeIndex(deps pipelineDeps) {
	if deps.index != nil {
		deps.index.Close()
	}
}

// ---------------------------------------------------------------------------
// review (re-examine existing translations)
// ---------------------------------------------------------------------------

func newReviewCmd() *cobra.Command {
	var (
		pf          providerFlags
		langs       string
		contextHint string
		concurrency int
		all         bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Re-examine existing translations",
		Long: `Review existing translations and apply improvements.

By default only outdated entries (whose source text changed since they
were translated) are reviewed. With --all every translated string is
re-examined against the current glossary and source text.

Examples:
  # Review outdated translations in all configured languages
  weft review

  # Full review of one language
  weft review --lang ja --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(pf, langs, contextHint, concurrency, all, verbose)
		},
	}

	addProviderFlags(cmd, &pf)
	cmd.Flags().StringVar(&langs, "lang", "", "Languages to review (comma-separated, default: all configured)")
	cmd.Flags().StringVar(&contextHint, "context", "", "Project-wide context hint for the reviewer")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent requests (default from config)")
	cmd.Flags().BoolVar(&all, "all", false, "Review every translated string, not only outdated ones")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable detailed logging")

	return cmd
}

func runReview(pf providerFlags, langFlag, contextHint string, concurrency int, all, verbose bool) error {
	cfg, err := loadProject(pf)
	if err != nil {
		return err
	}
	langs, err := resolveLanguages(cfg, langFlag)
	if err != nil {
		return err
	}
	lock, err := provenance.Load(rootDir)
	if err != nil {
		return err
	}
	deps, err := buildDeps(cfg, pf)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	initIndex(ctx, &deps)
	defer closeIndex(deps)

	opts := batchOptions(cfg, deps, concurrency, verbose)
	opts.Context = contextHint
	opts.Verbose = verbose

	attempted, reviewed := 0, 0
	for _, lang := range langs {
		meta := langmeta.Resolve(lang)
		logInfo(i18n.T("Reviewing %s translations..."), meta.English)

		outcome, err := reviewLanguage(ctx, deps, lock, lang, all, opts)
		attempted += outcome.Attempted
		reviewed += outcome.Reviewed
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logError("%s: %v", lang, err)
			continue
		}
		if outcome.Reviewed > 0 {
			logSuccess("%s: %d reviewed, %d improved", lang, outcome.Reviewed, outcome.Changed)
		}
	}

	if attempted == 0 {
		logInfo("%s", i18n.T("Nothing to review."))
		return nil
	}
	if reviewed == 0 {
		return fmt.Errorf("all reviews failed")
	}
	return nil
}

// ---------------------------------------------------------------------------
// glossary (manage mandatory term translations)
// ---------------------------------------------------------------------------

func newGlossaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Manage mandatory term translations",
		Long: `Manage the glossary of terms with mandatory translations.

Glossary terms are injected into every translation request: whenever a
term appears in a source string, the configured translation must be
used in the output.`,
	}

	cmd.AddCommand(
		newGlossaryAddCmd(),
		newGlossaryRemoveCmd(),
		newGlossarySearchCmd(),
		newGlossaryImportCmd(),
	)
	return cmd
}

// openGlossary loads the project glossary for a glossary subcommand.
func openGlossary() (*glossary.Store, error) {
	cfg, err := loadProject(providerFlags{})
	if err != nil {
		return nil, err
	}
	store := glossary.Open(cfg.GlossaryPath(rootDir))
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func newGlossaryAddCmd() *cobra.Command {
	var (
		translations []string
		termContext  string
		notes        string
	)

	cmd := &cobra.Command{
		Use:   "add <term>",
		Short: "Add or update a glossary term",
		Long: `Add a glossary term, or merge translations into an existing one.

Translations are given as lang=text pairs. Matching is case-insensitive:
adding "wallet" updates an existing "Wallet" entry.

Examples:
  weft glossary add "Wallet" -t ja=ウォレット -t de=Wallet
  weft glossary add "Stake" -t ja=ステーク --context "verb, not noun"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGlossary()
			if err != nil {
				return err
			}

			entry := glossary.Entry{
				Term:         args[0],
				Translations: make(map[string]string, len(translations)),
				Context:      termContext,
				Notes:        notes,
			}
			for _, pair := range translations {
				lang, text, ok := strings.Cut(pair, "=")
				if !ok || lang == "" {
					return fmt.Errorf("invalid translation %q (want lang=text)", pair)
				}
				entry.Translations[lang] = text
			}

			store.Upsert(entry)
			if err := store.Save(); err != nil {
				return err
			}
			logSuccess(i18n.T("Glossary term %q saved."), args[0])
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&translations, "translation", "t", nil, "Translation as lang=text (repeatable)")
	cmd.Flags().StringVar(&termContext, "context", "", "Usage note shown to the translator")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form maintainer notes")

	return cmd
}

func newGlossaryRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <term>",
		Short: "Remove a glossary term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGlossary()
			if err != nil {
				return err
			}
			if !store.Remove(args[0]) {
				return fmt.Errorf("%s", fmt.Sprintf(i18n.T("Glossary term %q not found."), args[0]))
			}
			if err := store.Save(); err != nil {
				return err
			}
			logSuccess(i18n.T("Glossary term %q removed."), args[0])
			return nil
		},
	}
}

func newGlossarySearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Search glossary terms and translations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGlossary()
			if err != nil {
				return err
			}

			matches := store.Search(args[0])
			if len(matches) == 0 {
				logInfo("%s", i18n.T("No matching glossary terms."))
				return nil
			}
			for _, e := range matches {
				fmt.Printf("%s\n", e.Term)
				if e.Context != "" {
					fmt.Printf("  context: %s\n", e.Context)
				}
				for _, lang := range sortedKeys(e.Translations) {
					fmt.Printf("  %-8s %s\n", lang, e.Translations[lang])
				}
			}
			return nil
		},
	}
}

func newGlossaryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import and merge glossary terms from a JSON file",
		Long: `Import terms from another glossary file.

The file uses the same JSON format as the project glossary. Imported
terms are merged case-insensitively: translations from the imported
file win per language, other languages are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openGlossary()
			if err != nil {
				return err
			}
			n, err := store.Import(args[0])
			if err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			logSuccess(i18n.N("Imported %d glossary term", "Imported %d glossary terms", n), n)
			return nil
		},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
