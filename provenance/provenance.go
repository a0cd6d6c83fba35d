// Package provenance implements weft.lock — a lock file that records, per
// language and catalog key, the exact source-language text each target value
// was translated from. This is what makes staleness detection possible:
// comparing a target value to the live source text is meaningless across
// languages, but comparing the recorded origin text to the live source text
// tells us precisely whether a translation is outdated.
//
// The lock file is stored alongside .weft.yaml as weft.lock.
package provenance

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the default lock file name.
const FileName = "weft.lock"

// Version is the lock file format version.
const Version = 1

// File represents the weft.lock structure.
type File struct {
	Version int `yaml:"version"`
	// Sources maps language -> catalog key -> source text at translation time.
	Sources map[string]map[string]string `yaml:"sources"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// Load reads the lock file from the given directory. A missing file is not
// an error: an empty lock is returned and created on the first Save.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	f := &File{
		Version: Version,
		Sources: make(map[string]map[string]string),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f.path = path
	if f.Sources == nil {
		f.Sources = make(map[string]map[string]string)
	}
	return f, nil
}

// Save writes the lock file to disk.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (f *File) Path() string {
	return f.path
}

// Source returns the recorded origin text for a language/key pair, or ""
// when none is recorded.
func (f *File) Source(lang, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys, ok := f.Sources[lang]
	if !ok {
		return ""
	}
	return keys[key]
}

// Record stores the origin text for a key after a successful translation.
func (f *File) Record(lang, key, sourceText string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Sources[lang] == nil {
		f.Sources[lang] = make(map[string]string)
	}
	f.Sources[lang][key] = sourceText
}

// RecordBatch stores origin texts for multiple keys at once.
func (f *File) RecordBatch(lang string, sources map[string]string) {
	for key, text := range sources {
		f.Record(lang, key, text)
	}
}

// Clean removes recorded keys that no longer exist in the source catalog so
// stale entries do not accumulate across renames and deletions.
func (f *File) Clean(lang string, currentKeys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recorded := f.Sources[lang]
	if recorded == nil {
		return
	}
	valid := make(map[string]bool, len(currentKeys))
	for _, k := range currentKeys {
		valid[k] = true
	}
	for k := range recorded {
		if !valid[k] {
			delete(recorded, k)
		}
	}
}
