// Package catalog implements reading, writing, flattening and diffing of
// nested JSON translation catalogs.
//
// A catalog file is an arbitrarily nested JSON object whose leaves are all
// strings:
//
//	{
//	    "menu": {
//	        "file": {
//	            "save": "Save",
//	            "open": "Open"
//	        }
//	    },
//	    "greeting": "Hello"
//	}
//
// Flattening joins the nesting path with dots ("menu.file.save"). Key order
// is preserved on parse and kept stable through a flatten/unflatten round
// trip so that diffs between runs are reproducible.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Entry is one flattened (key, value) unit of a catalog.
type Entry struct {
	// Key is the dot-joined nesting path, unique within a catalog.
	Key string
	// Value is the current text for this key.
	Value string
	// Context is an optional usage hint ("button label", "heading", ...).
	Context string
	// TranslatedFrom is the source-language text this value was translated
	// from, populated from the provenance lock when loading a target
	// catalog. Empty when no provenance is recorded.
	TranslatedFrom string
	// SourceFile and SourceLine optionally point at where the string was
	// extracted from.
	SourceFile string
	SourceLine int
}

// node is one level of the ordered nested mapping. A node is either a leaf
// (string value) or an inner object with ordered children.
type node struct {
	leaf     bool
	value    string
	keys     []string
	children map[string]*node
}

func newObject() *node {
	return &node{children: make(map[string]*node)}
}

// put inserts or replaces a child, preserving first-insertion order.
func (n *node) put(key string, child *node) {
	if _, ok := n.children[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.children[key] = child
}

// Catalog is a parsed nested translation document.
type Catalog struct {
	root *node
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{root: newObject()}
}

// ParseError reports a structurally invalid catalog document, such as a
// non-string leaf value. It is fatal for the run: there is no sensible
// partial recovery from a corrupt input.
type ParseError struct {
	// Path is the dot-joined path to the offending element ("" for the
	// document root).
	Path string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "catalog: " + e.Msg
	}
	return fmt.Sprintf("catalog: %s: %s", e.Path, e.Msg)
}

// ParseFile reads and parses a catalog file.
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

// Parse parses a nested catalog document, preserving key order at every
// nesting level via token-wise decoding.
func Parse(data []byte) (*Catalog, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	t, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, &ParseError{Msg: fmt.Sprintf("expected object, got %v", t)}
	}

	root, err := parseObject(dec, "")
	if err != nil {
		return nil, err
	}
	return &Catalog{root: root}, nil
}

// parseObject consumes tokens up to and including the matching '}'.
// path is the dot-joined prefix for error reporting.
func parseObject(dec *json.Decoder, path string) (*node, error) {
	obj := newObject()

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Path: path, Msg: fmt.Sprintf("reading key: %v", err)}
		}
		key, ok := kt.(string)
		if !ok {
			return nil, &ParseError{Path: path, Msg: fmt.Sprintf("expected string key, got %T", kt)}
		}
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}

		vt, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Path: childPath, Msg: fmt.Sprintf("reading value: %v", err)}
		}
		switch v := vt.(type) {
		case string:
			obj.put(key, &node{leaf: true, value: v})
		case json.Delim:
			if v != '{' {
				return nil, &ParseError{Path: childPath, Msg: fmt.Sprintf("unexpected %v; leaves must be strings", v)}
			}
			child, err := parseObject(dec, childPath)
			if err != nil {
				return nil, err
			}
			obj.put(key, child)
		default:
			return nil, &ParseError{Path: childPath, Msg: fmt.Sprintf("leaf must be a string, got %T", vt)}
		}
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Path: path, Msg: fmt.Sprintf("unterminated object: %v", err)}
	}
	return obj, nil
}

// Flatten returns the catalog as flat entries in document order.
func (c *Catalog) Flatten() []Entry {
	var out []Entry
	flattenNode(c.root, "", &out)
	return out
}

func flattenNode(n *node, prefix string, out *[]Entry) {
	for _, key := range n.keys {
		child := n.children[key]
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child.leaf {
			*out = append(*out, Entry{Key: path, Value: child.value})
		} else {
			flattenNode(child, path, out)
		}
	}
}

// Unflatten rebuilds a nested catalog from flat entries. Intermediate
// objects are created on demand; the last entry wins for duplicate keys,
// and a leaf in the middle of a longer path is replaced by an object.
func Unflatten(entries []Entry) *Catalog {
	c := New()
	for _, e := range entries {
		parts := strings.Split(e.Key, ".")
		cur := c.root
		for _, part := range parts[:len(parts)-1] {
			child, ok := cur.children[part]
			if !ok || child.leaf {
				child = newObject()
				cur.put(part, child)
			}
			cur = child
		}
		cur.put(parts[len(parts)-1], &node{leaf: true, value: e.Value})
	}
	return c
}

// Len returns the number of leaf entries.
func (c *Catalog) Len() int {
	return countLeaves(c.root)
}

func countLeaves(n *node) int {
	total := 0
	for _, key := range n.keys {
		child := n.children[key]
		if child.leaf {
			total++
		} else {
			total += countLeaves(child)
		}
	}
	return total
}

// Marshal produces the JSON document with 4-space indentation, original key
// order, and a trailing newline.
func (c *Catalog) Marshal() ([]byte, error) {
	var b strings.Builder
	writeNode(&b, c.root, 0)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func writeNode(b *strings.Builder, n *node, depth int) {
	indent := strings.Repeat("    ", depth+1)
	b.WriteString("{\n")
	for i, key := range n.keys {
		child := n.children[key]
		b.WriteString(indent)
		b.WriteString(strconv.Quote(key))
		b.WriteString(": ")
		if child.leaf {
			b.WriteString(strconv.Quote(child.value))
		} else {
			writeNode(b, child, depth+1)
		}
		if i < len(n.keys)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("    ", depth))
	b.WriteByte('}')
}

// WriteFile writes the catalog document to disk.
func (c *Catalog) WriteFile(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Pair couples a source entry with its existing target counterpart.
type Pair struct {
	Source Entry
	Target Entry
}

// Result is the outcome of diffing a source catalog against a target.
type Result struct {
	// Missing are source entries with no target counterpart.
	Missing []Entry
	// Outdated are entries present in both catalogs whose target value was
	// translated from a source text that has since changed.
	Outdated []Pair
}

// Diff classifies every source entry against the target set. An entry is
// outdated only when the target entry carries provenance (TranslatedFrom)
// and it differs from the live source value; paired entries without
// provenance are treated as up to date.
func Diff(source, target []Entry) Result {
	index := make(map[string]Entry, len(target))
	for _, t := range target {
		index[t.Key] = t
	}

	var res Result
	for _, s := range source {
		t, ok := index[s.Key]
		if !ok {
			res.Missing = append(res.Missing, s)
			continue
		}
		if t.TranslatedFrom != "" && t.TranslatedFrom != s.Value {
			res.Outdated = append(res.Outdated, Pair{Source: s, Target: t})
		}
	}
	return res
}

// PairAll returns every source entry that has a target counterpart,
// regardless of staleness. Used by review --all.
func PairAll(source, target []Entry) []Pair {
	index := make(map[string]Entry, len(target))
	for _, t := range target {
		index[t.Key] = t
	}

	var pairs []Pair
	for _, s := range source {
		if t, ok := index[s.Key]; ok {
			pairs = append(pairs, Pair{Source: s, Target: t})
		}
	}
	return pairs
}
