package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadFile_YAML(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	doc, err := loader.LoadFile(filepath.Join("testdata", "ssh-hardening.yaml"))
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if doc.Name() != "SSH Hardening" {
		t.Errorf("Expected name 'SSH Hardening', got '%s'", doc.Name())
	}
	if len(doc.Requirements) != 2 {
		t.Fatalf("Expected 2 requirements, got %d", len(doc.Requirements))
	}
	if doc.Requirements[0].FailureMessage != "Root login over SSH is enabled" {
		t.Errorf("Unexpected failure message: %s", doc.Requirements[0].FailureMessage)
	}
	if doc.Enforcement == nil || doc.Enforcement.RemediationSteps != "Set PermitRootLogin no; Set PasswordAuthentication no" {
		t.Errorf("Unexpected remediation steps: %+v", doc.Enforcement)
	}
	if len(doc.Hash) != 64 {
		t.Errorf("Expected sha256 hex hash, got '%s'", doc.Hash)
	}
}

func TestLoadFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	doc, err := loader.LoadFile(filepath.Join("testdata", "ntp.json"))
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if doc.Severity() != "low" {
		t.Errorf("Expected severity 'low', got '%s'", doc.Severity())
	}
	if doc.Requirements[0].ExpectedValue != true {
		t.Errorf("Expected boolean expected value, got %v", doc.Requirements[0].ExpectedValue)
	}
	if doc.Enforcement.RemediationSteps != "Enable chronyd" {
		t.Errorf("Unexpected remediation steps: %s", doc.Enforcement.RemediationSteps)
	}
}

func TestLoadFile_CacheByHash(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "p.yaml")
	if err := os.WriteFile(path, []byte("metadata:\n  name: first\npolicy: {}\n"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	first, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	again, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first != again {
		t.Error("Expected unchanged file to return the cached document")
	}

	if err := os.WriteFile(path, []byte("metadata:\n  name: second\npolicy: {}\n"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	changed, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if changed.Name() != "second" || changed.Hash == first.Hash {
		t.Errorf("Expected reloaded document, got name '%s'", changed.Name())
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	files := map[string]string{
		filepath.Join(tmpDir, "a.yaml"):    "metadata:\n  name: a\npolicy: {}\n",
		filepath.Join(subDir, "b.yml"):     "metadata:\n  name: b\npolicy: {}\n",
		filepath.Join(subDir, "c.json"):    `{"metadata": {"name": "c"}, "policy": {}}`,
		filepath.Join(tmpDir, "README.md"): "# ignored",
		filepath.Join(tmpDir, "bad.json"):  "not json",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
	}

	loaded, err := loader.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != 3 {
		t.Fatalf("Expected 3 policies, got %d", len(loaded))
	}
	if loaded[0].Name() != "a" || loaded[1].Name() != "b" || loaded[2].Name() != "c" {
		t.Errorf("Expected lexical order a, b, c; got %s, %s, %s", loaded[0].Name(), loaded[1].Name(), loaded[2].Name())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unsupported type", file: "test.txt", content: "not a policy"},
		{name: "invalid json", file: "test.json", content: "invalid json"},
		{name: "invalid yaml", file: "test.yaml", content: "metadata: [unclosed"},
		{name: "empty document", file: "empty.yaml", content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test file: %v", err)
			}
			if _, err := loader.LoadFile(path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadFromPaths_NonExistent(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/path"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestClearCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	if _, err := loader.LoadFile(filepath.Join("testdata", "ntp.json")); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "p.yaml")
	if err := os.WriteFile(path, []byte("metadata:\n  name: v1\npolicy: {}\n"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []*Document, 1)
	err := loader.Watch(ctx, []string{tmpDir}, func(docs []*Document) error {
		select {
		case reloaded <- docs:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	if err := os.WriteFile(path, []byte("metadata:\n  name: v2\npolicy: {}\n"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	select {
	case docs := <-reloaded:
		if len(docs) != 1 || docs[0].Name() != "v2" {
			t.Errorf("Expected reloaded policy v2, got %+v", docs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
