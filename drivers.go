package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/weftline/weft/catalog"
	"github.com/weftline/weft/config"
	"github.com/weftline/weft/provenance"
	"github.com/weftline/weft/vecstore"
	"github.com/weftline/weft/weaver"
)

// ---------------------------------------------------------------------------
// Pipeline dependencies
// ---------------------------------------------------------------------------

// pipelineDeps bundles what the translate, review, and status pipelines
// need. Commands build it from real clients; tests substitute stubs.
type pipelineDeps struct {
	cfg   *config.File
	root  string
	gen   weaver.Generator
	index vecstore.Index  // nil when similarity is disabled
	gloss weaver.Glossary // nil when the glossary is disabled
}

// ---------------------------------------------------------------------------
// Catalog loading
// ---------------------------------------------------------------------------

// loadSourceEntries reads the source-language catalog.
func loadSourceEntries(deps pipelineDeps) ([]catalog.Entry, error) {
	path := deps.cfg.CatalogPath(deps.root, deps.cfg.SourceLang)
	cat, err := catalog.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("source catalog: %w", err)
	}
	return cat.Flatten(), nil
}

// loadTargetEntries reads one target-language catalog and attaches the
// recorded provenance to each entry. A missing catalog file yields an
// empty slice.
func loadTargetEntries(deps pipelineDeps, lock *provenance.File, lang string) ([]catalog.Entry, error) {
	path := deps.cfg.CatalogPath(deps.root, lang)
	cat, err := catalog.ParseFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("target catalog %s: %w", lang, err)
	}
	entries := cat.Flatten()
	for i := range entries {
		entries[i].TranslatedFrom = lock.Source(lang, entries[i].Key)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Translate pipeline
// ---------------------------------------------------------------------------

// translateOutcome summarizes one language run.
type translateOutcome struct {
	// Attempted is how many strings needed work (missing + outdated).
	Attempted int
	// Done is how many were successfully translated and merged.
	Done int
}

// translateLanguage diffs the target catalog against the source, translates
// everything missing or outdated, merges the results back, and records
// provenance. Partial failure is not fatal: successful translations are
// kept, and the caller decides what a fully failed run means.
func translateLanguage(ctx context.Context, deps pipelineDeps, lock *provenance.File, lang string, opts weaver.Options) (translateOutcome, error) {
	source, err := loadSourceEntries(deps)
	if err != nil {
		return translateOutcome{}, err
	}
	target, err := loadTargetEntries(deps, lock, lang)
	if err != nil {
		return translateOutcome{}, err
	}

	// Drop provenance for keys the source catalog no longer has, so the
	// lock does not accumulate renamed and deleted keys.
	sourceKeys := make([]string, len(source))
	for i, s := range source {
		sourceKeys[i] = s.Key
	}
	lock.Clean(lang, sourceKeys)

	diff := catalog.Diff(source, target)
	work := make([]catalog.Entry, 0, len(diff.Missing)+len(diff.Outdated))
	work = append(work, diff.Missing...)
	for _, pair := range diff.Outdated {
		work = append(work, pair.Source)
	}
	if len(work) == 0 {
		return translateOutcome{}, lock.Save()
	}

	opts.Language = lang
	results, batchErr := wv(deps).BatchTranslate(ctx, work, opts)
	if len(results) == 0 {
		return translateOutcome{Attempted: len(work)}, batchErr
	}

	merged := mergeResults(source, target, results)
	if err := writeCatalog(deps, lang, merged); err != nil {
		return translateOutcome{Attempted: len(work), Done: len(results)}, err
	}
	if err := recordProvenance(lock, lang, results); err != nil {
		return translateOutcome{Attempted: len(work), Done: len(results)}, err
	}
	return translateOutcome{Attempted: len(work), Done: len(results)}, nil
}

// mergeResults builds the new target entry list: source order, new
// translations over existing ones, untranslated keys left absent. Target
// entries whose keys no longer exist in the source are preserved at the
// end so a failed extraction never destroys translations.
func mergeResults(source, target []catalog.Entry, results map[string]weaver.Result) []catalog.Entry {
	targetByKey := make(map[string]catalog.Entry, len(target))
	for _, t := range target {
		targetByKey[t.Key] = t
	}
	sourceKeys := make(map[string]bool, len(source))

	var out []catalog.Entry
	for _, s := range source {
		sourceKeys[s.Key] = true
		if r, ok := results[s.Key]; ok {
			out = append(out, catalog.Entry{Key: s.Key, Value: r.Translated})
			continue
		}
		if t, ok := targetByKey[s.Key]; ok {
			out = append(out, catalog.Entry{Key: t.Key, Value: t.Value})
		}
	}
	for _, t := range target {
		if !sourceKeys[t.Key] {
			out = append(out, catalog.Entry{Key: t.Key, Value: t.Value})
		}
	}
	return out
}

func writeCatalog(deps pipelineDeps, lang string, entries []catalog.Entry) error {
	path := deps.cfg.CatalogPath(deps.root, lang)
	if err := catalog.Unflatten(entries).WriteFile(path); err != nil {
		return fmt.Errorf("writing catalog %s: %w", lang, err)
	}
	return nil
}

func recordProvenance(lock *provenance.File, lang string, results map[string]weaver.Result) error {
	sources := make(map[string]string, len(results))
	for key, r := range results {
		sources[key] = r.Original
	}
	lock.RecordBatch(lang, sources)
	return lock.Save()
}

// ---------------------------------------------------------------------------
// Review pipeline
// ---------------------------------------------------------------------------

// reviewOutcome summarizes one review run.
type reviewOutcome struct {
	// Attempted is how many existing translations were selected.
	Attempted int
	// Reviewed is how many reviews completed.
	Reviewed int
	// Changed is how many translations the reviewer actually improved.
	Changed int
}

// reviewLanguage re-examines existing translations. With all=false only
// outdated entries (stale provenance) are selected; with all=true every
// translated key is reviewed. Improved translations are merged back and
// the provenance refreshed so reviewed keys read as up to date.
func reviewLanguage(ctx context.Context, deps pipelineDeps, lock *provenance.File, lang string, all bool, opts weaver.Options) (reviewOutcome, error) {
	source, err := loadSourceEntries(deps)
	if err != nil {
		return reviewOutcome{}, err
	}
	target, err := loadTargetEntries(deps, lock, lang)
	if err != nil {
		return reviewOutcome{}, err
	}

	var pairs []catalog.Pair
	if all {
		pairs = catalog.PairAll(source, target)
	} else {
		pairs = catalog.Diff(source, target).Outdated
	}
	if len(pairs) == 0 {
		return reviewOutcome{}, nil
	}

	opts.Language = lang
	results, batchErr := wv(deps).BatchReview(ctx, pairs, opts)
	if len(results) == 0 {
		return reviewOutcome{Attempted: len(pairs)}, batchErr
	}

	outcome := reviewOutcome{Attempted: len(pairs), Reviewed: len(results)}
	for _, pair := range pairs {
		r, ok := results[pair.Source.Key]
		if ok && r.Translated != pair.Target.Value {
			outcome.Changed++
		}
	}

	merged := mergeResults(source, target, results)
	if err := writeCatalog(deps, lang, merged); err != nil {
		return outcome, err
	}
	if err := recordProvenance(lock, lang, results); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// ---------------------------------------------------------------------------
// Status pipeline
// ---------------------------------------------------------------------------

// langStatus holds the per-language diff counts shown by weft status.
type langStatus struct {
	Lang     string
	Missing  int
	Outdated int
	UpToDate int
	Total    int
}

func statusForLanguage(deps pipelineDeps, lock *provenance.File, lang string) (langStatus, error) {
	source, err := loadSourceEntries(deps)
	if err != nil {
		return langStatus{}, err
	}
	target, err := loadTargetEntries(deps, lock, lang)
	if err != nil {
		return langStatus{}, err
	}

	diff := catalog.Diff(source, target)
	st := langStatus{
		Lang:     lang,
		Missing:  len(diff.Missing),
		Outdated: len(diff.Outdated),
		Total:    len(source),
	}
	st.UpToDate = st.Total - st.Missing - st.Outdated
	return st, nil
}

// wv builds a weaver from the pipeline dependencies.
func wv(deps pipelineDeps) *weaver.Weaver {
	return weaver.New(deps.gen, deps.index, deps.gloss)
}
