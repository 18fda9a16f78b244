package hook

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, root, dir string, m Manifest) {
	t.Helper()
	hookDir := filepath.Join(root, dir)
	if err := os.MkdirAll(hookDir, 0755); err != nil {
		t.Fatalf("failed to create hook dir: %v", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hookDir, ManifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestManager_Discover(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "sighting-log", Manifest{
		Name:        "sighting-log",
		Version:     "1.0.0",
		Description: "Appends sightings to a file",
		Executable:  "sighting-log",
		Events:      []string{EventSighting},
	})

	m := NewManager(root, nil)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	hooks := m.List()
	if len(hooks) != 1 {
		t.Fatalf("expected 1 hook, got %d", len(hooks))
	}
	h := hooks[0]
	if h.Manifest.Version != "1.0.0" {
		t.Errorf("version = %q, want 1.0.0", h.Manifest.Version)
	}
	if h.Path != filepath.Join(root, "sighting-log") {
		t.Errorf("path = %q", h.Path)
	}
	if h.Executable != filepath.Join(root, "sighting-log", "sighting-log") {
		t.Errorf("executable = %q", h.Executable)
	}
}

func TestManager_Discover_SkipsInvalid(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "good", Manifest{Name: "good", Executable: "run"})
	writeManifest(t, root, "nameless", Manifest{Executable: "run"})

	bad := filepath.Join(root, "broken")
	if err := os.MkdirAll(bad, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bad, ManifestFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "no-manifest"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(root, nil)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if got := len(m.List()); got != 1 {
		t.Errorf("expected only the valid hook, got %d", got)
	}
}

func TestManager_Discover_MissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), nil)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() on missing dir should not fail: %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected no hooks")
	}
}

func TestManager_Get(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "a", Manifest{Name: "alpha", Executable: "run"})

	m := NewManager(root, nil)
	if err := m.Discover(); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Get("alpha"); err != nil {
		t.Errorf("Get(alpha) error = %v", err)
	}
	if _, err := m.Get("beta"); !errors.Is(err, ErrHookNotFound) {
		t.Errorf("Get(beta) error = %v, want ErrHookNotFound", err)
	}
}

func TestManager_ForEvent(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "b", Manifest{Name: "b-sightings", Executable: "run", Events: []string{EventSighting}})
	writeManifest(t, root, "a", Manifest{Name: "a-all", Executable: "run"})
	writeManifest(t, root, "c", Manifest{Name: "c-test", Executable: "run", Events: []string{EventTest}})

	m := NewManager(root, nil)
	if err := m.Discover(); err != nil {
		t.Fatal(err)
	}

	got := m.ForEvent(EventSighting)
	if len(got) != 2 {
		t.Fatalf("ForEvent(sighting) returned %d hooks, want 2", len(got))
	}
	if got[0].Manifest.Name != "a-all" || got[1].Manifest.Name != "b-sightings" {
		t.Errorf("unexpected hooks or order: %s, %s", got[0].Manifest.Name, got[1].Manifest.Name)
	}
}
