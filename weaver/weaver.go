// Package weaver orchestrates catalog translation: it augments each request
// with similar approved translations and glossary terms, fans work out over
// a bounded worker pool, and writes accepted translations back into the
// similarity index.
package weaver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"

	"github.com/weftline/weft/catalog"
	"github.com/weftline/weft/provider"
	"github.com/weftline/weft/vecstore"
)

// Generator produces translations and reviews. *provider.Client satisfies
// it; tests substitute stubs.
type Generator interface {
	Translate(ctx context.Context, req provider.Request) (string, error)
	Review(ctx context.Context, req provider.ReviewRequest) (provider.Review, error)
}

// Glossary supplies mandatory term translations for one target language.
type Glossary interface {
	ForLanguage(lang string) map[string]string
}

// Result is the outcome for one catalog key.
type Result struct {
	// Original is the source-language text the translation was made from.
	Original string
	// Translated is the produced target-language text.
	Translated string
	// IsNew reports whether the key had no previous translation.
	IsNew bool
	// Changes describes what a review changed; empty when the reviewer
	// kept the existing translation.
	Changes string
}

// Options control one batch run.
type Options struct {
	// Language is the target language code (BCP 47, e.g. "ja", "pt-BR").
	Language string
	// Context is a project-wide hint prepended to per-entry contexts.
	Context string
	// Concurrency caps in-flight generation requests. 0 means default.
	Concurrency int
	// SimilarLimit caps retrieved similar translations per entry. 0 means
	// default.
	SimilarLimit int
	// UseVector enables similarity retrieval and index write-back.
	UseVector bool
	// UseGlossary enables glossary term injection.
	UseGlossary bool
	// ShowProgress renders a terminal progress bar during batch runs.
	ShowProgress bool
	// Verbose enables per-entry logging through OnLog.
	Verbose bool

	// OnLog receives informational messages.
	OnLog func(msg string)
	// OnWarn receives non-fatal degradation notices (e.g. the similarity
	// backend being unreachable).
	OnWarn func(msg string)
	// OnError receives per-entry failures during batch runs.
	OnError func(key string, err error)
}

const (
	defaultConcurrency  = 5
	defaultSimilarLimit = 3
)

func (o Options) effectiveConcurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultConcurrency
}

func (o Options) effectiveSimilarLimit() int {
	if o.SimilarLimit > 0 {
		return o.SimilarLimit
	}
	return defaultSimilarLimit
}

func (o Options) warn(msg string) {
	if o.OnWarn != nil {
		o.OnWarn(msg)
	}
}

func (o Options) log(msg string) {
	if o.OnLog != nil {
		o.OnLog(msg)
	}
}

// Weaver ties a generator, a similarity index, and a glossary together.
type Weaver struct {
	gen   Generator
	index vecstore.Index
	gloss Glossary
}

// New builds a Weaver. index and gloss may be nil; the corresponding
// augmentation is then skipped regardless of Options.
func New(gen Generator, index vecstore.Index, gloss Glossary) *Weaver {
	return &Weaver{gen: gen, index: index, gloss: gloss}
}

// entryContext merges the batch-wide context with a per-entry one.
func entryContext(opts Options, entry string) string {
	switch {
	case opts.Context == "":
		return entry
	case entry == "":
		return opts.Context
	default:
		return opts.Context + "; " + entry
	}
}

// similarFor retrieves up to the configured limit of similar approved
// translations. A backend failure degrades to no examples with a warning
// rather than failing the entry.
func (w *Weaver) similarFor(ctx context.Context, text string, opts Options) []provider.Example {
	if !opts.UseVector || w.index == nil {
		return nil
	}
	matches, err := w.index.Query(ctx, text, opts.Language, opts.effectiveSimilarLimit())
	if err != nil {
		opts.warn(fmt.Sprintf("similarity lookup unavailable: %v", err))
		return nil
	}
	examples := make([]provider.Example, 0, len(matches))
	for _, m := range matches {
		examples = append(examples, provider.Example{
			Source:      m.Source,
			Translation: m.Translation,
			Similarity:  m.Similarity,
		})
	}
	return examples
}

func (w *Weaver) glossaryFor(opts Options) map[string]string {
	if !opts.UseGlossary || w.gloss == nil {
		return nil
	}
	return w.gloss.ForLanguage(opts.Language)
}

// recordTranslation writes one accepted translation into the similarity
// index. Best effort: index failures are warnings, the translation itself
// already succeeded.
func (w *Weaver) recordTranslation(ctx context.Context, source, translated string, opts Options) {
	if !opts.UseVector || w.index == nil {
		return
	}
	rec := vecstore.Record{
		Source:      source,
		Translation: translated,
		Language:    opts.Language,
		Context:     opts.Context,
	}
	if err := w.index.Add(ctx, rec); err != nil {
		opts.warn(fmt.Sprintf("similarity index write failed: %v", err))
	}
}

// TranslateEntry translates a single source entry.
func (w *Weaver) TranslateEntry(ctx context.Context, entry catalog.Entry, opts Options) (string, error) {
	req := provider.Request{
		Text:     entry.Value,
		Language: opts.Language,
		Context:  entryContext(opts, entry.Context),
		Similar:  w.similarFor(ctx, entry.Value, opts),
		Glossary: w.glossaryFor(opts),
	}
	translated, err := w.gen.Translate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("translating %q: %w", entry.Key, err)
	}
	w.recordTranslation(ctx, entry.Value, translated, opts)
	return translated, nil
}

// ReviewEntry asks the generator to review one existing translation. The
// index is updated only when the reviewer actually changed the text.
func (w *Weaver) ReviewEntry(ctx context.Context, pair catalog.Pair, opts Options) (provider.Review, error) {
	req := provider.ReviewRequest{
		Text:     pair.Source.Value,
		Existing: pair.Target.Value,
		Language: opts.Language,
		Context:  entryContext(opts, pair.Source.Context),
		Glossary: w.glossaryFor(opts),
	}
	rev, err := w.gen.Review(ctx, req)
	if err != nil {
		return provider.Review{}, fmt.Errorf("reviewing %q: %w", pair.Source.Key, err)
	}
	if rev.Improved != pair.Target.Value {
		w.recordTranslation(ctx, pair.Source.Value, rev.Improved, opts)
	}
	return rev, nil
}

// BatchTranslate translates entries under the concurrency limit. Failures
// are isolated per entry: the returned map holds only successes, and the
// error (when non-nil) is the first per-entry failure, reported after every
// entry has been attempted.
func (w *Weaver) BatchTranslate(ctx context.Context, entries []catalog.Entry, opts Options) (map[string]Result, error) {
	results := make(map[string]Result, len(entries))
	if len(entries) == 0 {
		return results, nil
	}

	bar := newBar(len(entries), opts)
	var mu sync.Mutex
	var failed int64

	err := runParallel(ctx, entries, opts.effectiveConcurrency(), func(ctx context.Context, entry catalog.Entry) error {
		translated, terr := w.TranslateEntry(ctx, entry, opts)
		if bar != nil {
			bar.Add(1)
		}
		if terr != nil {
			atomic.AddInt64(&failed, 1)
			if opts.OnError != nil {
				opts.OnError(entry.Key, terr)
			}
			return terr
		}
		if opts.Verbose {
			opts.log(fmt.Sprintf("%s: %q", entry.Key, translated))
		}
		mu.Lock()
		results[entry.Key] = Result{
			Original:   entry.Value,
			Translated: translated,
			IsNew:      true,
		}
		mu.Unlock()
		return nil
	})
	finishBar(bar)

	if n := atomic.LoadInt64(&failed); n > 0 {
		opts.log(fmt.Sprintf("%d of %d entries failed", n, len(entries)))
	}
	return results, err
}

// BatchReview reviews existing translations under the concurrency limit.
// Pairs follow the same isolation rules as BatchTranslate.
func (w *Weaver) BatchReview(ctx context.Context, pairs []catalog.Pair, opts Options) (map[string]Result, error) {
	results := make(map[string]Result, len(pairs))
	if len(pairs) == 0 {
		return results, nil
	}

	bar := newBar(len(pairs), opts)
	var mu sync.Mutex
	var failed int64

	err := runParallel(ctx, pairs, opts.effectiveConcurrency(), func(ctx context.Context, pair catalog.Pair) error {
		rev, rerr := w.ReviewEntry(ctx, pair, opts)
		if bar != nil {
			bar.Add(1)
		}
		if rerr != nil {
			atomic.AddInt64(&failed, 1)
			if opts.OnError != nil {
				opts.OnError(pair.Source.Key, rerr)
			}
			return rerr
		}
		if opts.Verbose && rev.Changes != "" {
			opts.log(fmt.Sprintf("%s: %s", pair.Source.Key, rev.Changes))
		}
		mu.Lock()
		results[pair.Source.Key] = Result{
			Original:   pair.Source.Value,
			Translated: rev.Improved,
			Changes:    rev.Changes,
		}
		mu.Unlock()
		return nil
	})
	finishBar(bar)

	if n := atomic.LoadInt64(&failed); n > 0 {
		opts.log(fmt.Sprintf("%d of %d reviews failed", n, len(pairs)))
	}
	return results, err
}

func newBar(total int, opts Options) *progressbar.ProgressBar {
	if !opts.ShowProgress {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("translating"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}

// runParallel runs tasks with at most maxConcurrent in flight. Every task
// is attempted; the first error is returned after all complete.
func runParallel[T any](ctx context.Context, tasks []T, maxConcurrent int, fn func(context.Context, T) error) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for _, task := range tasks {
		if ctx.Err() != nil {
			errOnce.Do(func() { firstErr = ctx.Err() })
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(t T) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := fn(ctx, t); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(task)
	}

	wg.Wait()
	return firstErr
}
