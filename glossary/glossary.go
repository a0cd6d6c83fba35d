// Package glossary maintains a curated term dictionary enforced during
// translation. Terms are matched case-insensitively; each term carries a
// per-language translation map so one glossary serves every target language.
//
// The store is a JSON array on disk:
//
//	[
//	    {
//	        "term": "Wallet",
//	        "translations": { "ja": "ウォレット", "de": "Wallet" },
//	        "context": "crypto wallet, not a physical wallet",
//	        "notes": "brand-adjacent, keep transliteration"
//	    }
//	]
package glossary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one glossary term with its per-language translations.
type Entry struct {
	Term         string            `json:"term"`
	Translations map[string]string `json:"translations"`
	Context      string            `json:"context,omitempty"`
	Notes        string            `json:"notes,omitempty"`
}

// Store holds the glossary entries for one project.
type Store struct {
	path    string
	entries []Entry
}

// Open returns a store bound to the given file path. Call Load before use.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the glossary file. A missing file is an idempotent bootstrap,
// not an error: the store starts empty and the file is created so later
// manual edits have something to edit.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = nil
			return s.Save()
		}
		return fmt.Errorf("reading %s: %w", s.path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	s.entries = entries
	return nil
}

// Save writes all entries back to the store, sorted by term for stable
// diffs.
func (s *Store) Save() error {
	sorted := make([]Entry, len(s.entries))
	copy(sorted, s.entries)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Term) < strings.ToLower(sorted[j].Term)
	})

	out := sorted
	if out == nil {
		out = []Entry{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling glossary: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating glossary directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Len returns the number of terms.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns a copy of all entries.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Find returns the entry whose term matches case-insensitively, or nil.
func (s *Store) Find(term string) *Entry {
	for i := range s.entries {
		if strings.EqualFold(s.entries[i].Term, term) {
			return &s.entries[i]
		}
	}
	return nil
}

// Upsert adds a term or merges it into an existing one. Matching is
// case-insensitive on the term; incoming translations win per language, and
// context/notes are overwritten only when the incoming entry provides them.
func (s *Store) Upsert(e Entry) {
	existing := s.Find(e.Term)
	if existing == nil {
		if e.Translations == nil {
			e.Translations = make(map[string]string)
		}
		s.entries = append(s.entries, e)
		return
	}

	if existing.Translations == nil {
		existing.Translations = make(map[string]string)
	}
	for lang, tr := range e.Translations {
		existing.Translations[lang] = tr
	}
	if e.Context != "" {
		existing.Context = e.Context
	}
	if e.Notes != "" {
		existing.Notes = e.Notes
	}
}

// Remove deletes a term (case-insensitive) and reports whether it existed.
func (s *Store) Remove(term string) bool {
	for i := range s.entries {
		if strings.EqualFold(s.entries[i].Term, term) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ForLanguage projects the glossary to term -> translation for one target
// language, skipping terms with no translation for it.
func (s *Store) ForLanguage(lang string) map[string]string {
	out := make(map[string]string)
	for _, e := range s.entries {
		if tr, ok := e.Translations[lang]; ok && tr != "" {
			out[e.Term] = tr
		}
	}
	return out
}

// Search returns entries whose term or any translation contains the given
// text, case-insensitively.
func (s *Store) Search(text string) []Entry {
	needle := strings.ToLower(text)
	var out []Entry
	for _, e := range s.entries {
		if strings.Contains(strings.ToLower(e.Term), needle) {
			out = append(out, e)
			continue
		}
		for _, tr := range e.Translations {
			if strings.Contains(strings.ToLower(tr), needle) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Import merges every entry from another glossary file into this store.
// Returns the number of entries processed.
func (s *Store) Import(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, e := range entries {
		s.Upsert(e)
	}
	return len(entries), nil
}
