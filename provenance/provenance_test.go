package provenance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	f, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if f.Source("ja", "a.b") != "" {
		t.Error("expected empty lock to have no recorded sources")
	}
	if f.Version != Version {
		t.Errorf("version = %d, want %d", f.Version, Version)
	}
}

func TestRecordSaveReload(t *testing.T) {
	dir := t.TempDir()

	f, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	f.Record("ja", "menu.save", "Save")
	f.RecordBatch("ja", map[string]string{
		"menu.open": "Open",
		"greeting":  "Hello",
	})
	if err := f.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	back, err := Load(dir)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if got := back.Source("ja", "menu.save"); got != "Save" {
		t.Errorf("Source(ja, menu.save) = %q, want Save", got)
	}
	if got := back.Source("ja", "greeting"); got != "Hello" {
		t.Errorf("Source(ja, greeting) = %q, want Hello", got)
	}
	if got := back.Source("de", "menu.save"); got != "" {
		t.Errorf("Source(de, menu.save) = %q, want empty", got)
	}
}

func TestClean(t *testing.T) {
	f, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	f.RecordBatch("ja", map[string]string{
		"keep":   "x",
		"remove": "y",
	})

	f.Clean("ja", []string{"keep"})
	if f.Source("ja", "remove") != "" {
		t.Error("Clean left a removed key")
	}
	if f.Source("ja", "keep") != "x" {
		t.Error("Clean dropped a current key")
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for corrupt lock file")
	}
}
