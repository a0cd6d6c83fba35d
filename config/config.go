// Package config — .weft.yaml configuration file support.
//
// When a .weft.yaml file exists in the project root, weft uses it as the
// source of truth for catalog layout, target languages, and provider
// settings. Command-line flags override individual fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weftline/weft/provider"
	"github.com/weftline/weft/vecstore"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .weft.yaml structure.
type File struct {
	// SourceLang is the source language code (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// Languages are the target language codes to translate into.
	Languages []string `yaml:"languages"`
	// CatalogDir is the directory holding {lang}.json catalogs
	// (default "locales").
	CatalogDir string `yaml:"catalog_dir,omitempty"`
	// GlossaryFile is the glossary path (default "glossary.json").
	GlossaryFile string `yaml:"glossary_file,omitempty"`

	// Provider configures the AI service.
	Provider ProviderConfig `yaml:"provider,omitempty"`
	// Vector configures the similarity index.
	Vector VectorConfig `yaml:"vector,omitempty"`

	// Concurrency caps parallel generation requests (default 5).
	Concurrency int `yaml:"concurrency,omitempty"`
	// SimilarLimit caps retrieved similar translations per string
	// (default 3).
	SimilarLimit int `yaml:"similar_limit,omitempty"`
}

// ProviderConfig selects and tunes the AI provider.
type ProviderConfig struct {
	// Name: "openai", "google", "anthropic", "groq", "ollama",
	// "custom-openai".
	Name string `yaml:"name,omitempty"`
	// BaseURL overrides the provider's API base URL.
	BaseURL string `yaml:"base_url,omitempty"`
	// Model overrides the generation model.
	Model string `yaml:"model,omitempty"`
	// EmbedModel overrides the embedding model.
	EmbedModel string `yaml:"embed_model,omitempty"`
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string `yaml:"proxy,omitempty"`
	// TimeoutSeconds is the per-request timeout.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// VectorConfig points at the similarity index backend.
type VectorConfig struct {
	// Backend: "qdrant" (default when URL is set).
	Backend string `yaml:"backend,omitempty"`
	// URL is the backend address. Empty disables similarity retrieval.
	URL string `yaml:"url,omitempty"`
	// APIKey authenticates against the backend.
	APIKey string `yaml:"api_key,omitempty"`
	// Collection is the collection name (default "weft").
	Collection string `yaml:"collection,omitempty"`
	// Dimension is the embedding vector size. 0 means probe the embedding
	// model once at startup.
	Dimension int `yaml:"dimension,omitempty"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// FileName is the default config file name.
const FileName = ".weft.yaml"

// Load reads and validates .weft.yaml from the given directory.
// Returns nil if no .weft.yaml exists.
func Load(rootDir string) (*File, error) {
	path := filepath.Join(rootDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Default returns the configuration used when no .weft.yaml exists.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.SourceLang == "" {
		f.SourceLang = "en"
	}
	if f.CatalogDir == "" {
		f.CatalogDir = "locales"
	}
	if f.GlossaryFile == "" {
		f.GlossaryFile = "glossary.json"
	}
	if f.Provider.Name == "" {
		f.Provider.Name = provider.ProviderOpenAI
	}
}

// Validate rejects configurations weft cannot act on.
func (f *File) Validate() error {
	if _, ok := provider.DefaultProviders()[f.Provider.Name]; !ok {
		return fmt.Errorf("unknown provider %q (valid: openai, google, anthropic, groq, ollama, custom-openai)", f.Provider.Name)
	}
	if f.Provider.Name == provider.ProviderCustomOpenAI && f.Provider.BaseURL == "" {
		return fmt.Errorf("provider %q requires base_url", f.Provider.Name)
	}
	for _, lang := range f.Languages {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("languages list contains an empty code")
		}
		if lang == f.SourceLang {
			return fmt.Errorf("source language %q listed as a target", lang)
		}
	}
	if f.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if f.SimilarLimit < 0 {
		return fmt.Errorf("similar_limit must not be negative")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// CatalogPath returns the catalog file path for one language, relative to
// rootDir.
func (f *File) CatalogPath(rootDir, lang string) string {
	return filepath.Join(rootDir, f.CatalogDir, lang+".json")
}

// GlossaryPath returns the glossary file path relative to rootDir.
func (f *File) GlossaryPath(rootDir string) string {
	return filepath.Join(rootDir, f.GlossaryFile)
}

// apiKeyEnvVars maps provider names to the conventional environment
// variables carrying their keys, in lookup order.
var apiKeyEnvVars = map[string][]string{
	provider.ProviderOpenAI:       {"OPENAI_API_KEY"},
	provider.ProviderGoogle:       {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	provider.ProviderAnthropic:    {"ANTHROPIC_API_KEY"},
	provider.ProviderGroq:         {"GROQ_API_KEY"},
	provider.ProviderCustomOpenAI: {"OPENAI_API_KEY"},
}

// ResolveAPIKey picks the API key by precedence: explicit flag value,
// WEFT_API_KEY, then the provider's own conventional variable. Ollama runs
// without a key.
func (f *File) ResolveAPIKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("WEFT_API_KEY"); v != "" {
		return v
	}
	for _, name := range apiKeyEnvVars[f.Provider.Name] {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// BuildProvider materializes a provider.Provider from the config plus the
// resolved API key.
func (f *File) BuildProvider(apiKey string) (provider.Provider, error) {
	prov, ok := provider.DefaultProviders()[f.Provider.Name]
	if !ok {
		return provider.Provider{}, fmt.Errorf("unknown provider %q", f.Provider.Name)
	}
	if f.Provider.BaseURL != "" {
		prov.BaseURL = f.Provider.BaseURL
	}
	if f.Provider.Model != "" {
		prov.Model = f.Provider.Model
	}
	if f.Provider.EmbedModel != "" {
		prov.EmbedModel = f.Provider.EmbedModel
	}
	if f.Provider.Proxy != "" {
		prov.Proxy = f.Provider.Proxy
	}
	if f.Provider.TimeoutSeconds > 0 {
		prov.Timeout = time.Duration(f.Provider.TimeoutSeconds) * time.Second
	}
	prov.APIKey = apiKey

	if prov.APIKey == "" && f.Provider.Name != provider.ProviderOllama {
		return provider.Provider{}, fmt.Errorf("no API key for provider %q (set WEFT_API_KEY or use --api-key)", f.Provider.Name)
	}
	return prov, nil
}

// VectorStoreConfig converts the vector section for the index factory.
func (f *File) VectorStoreConfig() vecstore.Config {
	return vecstore.Config{
		Backend:    f.Vector.Backend,
		URL:        f.Vector.URL,
		APIKey:     f.Vector.APIKey,
		Collection: f.Vector.Collection,
		Dimension:  f.Vector.Dimension,
	}
}
