package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/warden/internal/permission"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.json")

	content := `{
		"name": "test-plugin",
		"version": "1.0.0",
		"displayName": "Test Plugin",
		"main": "init.lua",
		"policy": "strict",
		"permissions": {
			"network": [{"host": "api.github.com"}],
			"tools": ["fetch"]
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Name != "test-plugin" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.Version != "1.0.0" {
		t.Errorf("Version = %q", m.Version)
	}
	if m.Policy != "strict" {
		t.Errorf("Policy = %q", m.Policy)
	}
	if m.MainPath() != filepath.Join(dir, "init.lua") {
		t.Errorf("MainPath = %q", m.MainPath())
	}

	// The raw document feeds the permission parser unchanged.
	set := permission.Parse(m.Raw())
	if len(set.Network) != 1 || set.Network[0].Host != "api.github.com" {
		t.Errorf("parsed network = %+v", set.Network)
	}
	if len(set.Tools) != 1 || set.Tools[0] != "fetch" {
		t.Errorf("parsed tools = %v", set.Tools)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	content := `{"name": "p", "version": "0.1.0"}`
	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir() error = %v", err)
	}
	if m.Path() != dir {
		t.Errorf("Path = %q, want %q", m.Path(), dir)
	}
}

func TestParseDefaults(t *testing.T) {
	m, err := Parse([]byte(`{"name": "p", "version": "1.0.0"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Main != "init.lua" {
		t.Errorf("Main = %q, want init.lua", m.Main)
	}
	if m.Permissions != nil {
		t.Errorf("Permissions = %s, want absent", m.Permissions)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"missing name", `{"version": "1.0.0"}`, ErrMissingName},
		{"bad name", `{"name": "Bad_Name", "version": "1.0.0"}`, ErrInvalidName},
		{"bad version", `{"name": "p", "version": "one"}`, ErrInvalidVersion},
		{"bad main", `{"name": "p", "version": "1.0.0", "main": "init.js"}`, ErrInvalidMain},
		{"prerelease ok", `{"name": "p", "version": "1.0.0-beta.1"}`, nil},
		{"single letter name ok", `{"name": "p", "version": "1.0.0"}`, nil},
	}

	for _, tt := range tests {
		_, err := Parse([]byte(tt.doc))
		if tt.wantErr == nil {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/plugin.json"); err == nil {
		t.Error("Load(nonexistent) = nil error")
	}
}

func TestString(t *testing.T) {
	m, _ := Parse([]byte(`{"name": "p", "version": "1.2.0", "displayName": "Pretty"}`))
	if got := m.String(); got != "Pretty v1.2.0" {
		t.Errorf("String = %q", got)
	}
}
