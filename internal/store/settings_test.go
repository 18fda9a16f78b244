package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/watchpost/internal/settings"
)

func TestSettingsRepository_GetSet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if _, err := repo.Get("operator"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	if err := repo.Set("operator", "alice"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := repo.Set("operator", "bob"); err != nil {
		t.Fatalf("Set() overwrite failed: %v", err)
	}

	got, err := repo.Get("operator")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "bob" {
		t.Errorf("Get() = %q, want %q", got, "bob")
	}

	if err := repo.Delete("operator"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := repo.Delete("operator"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSettingsRepository_RuntimeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if _, err := repo.LoadRuntime(); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadRuntime() before save error = %v, want ErrNotFound", err)
	}

	rt := settings.New(settings.DefaultValues())
	rt.OnChange(func(snap settings.Snapshot) {
		if err := repo.SaveRuntime(snap); err != nil {
			t.Errorf("SaveRuntime() failed: %v", err)
		}
	})
	rt.SetMotionCannyLow(80)
	rt.SetMotionCooldown(3500 * time.Millisecond)
	rt.SetEnabledClasses([]string{"person", "dog"})

	loaded, err := repo.LoadRuntime()
	if err != nil {
		t.Fatalf("LoadRuntime() failed: %v", err)
	}
	if diff := cmp.Diff(rt.Snapshot(), loaded); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	restored := settings.New(settings.DefaultValues())
	restored.Restore(loaded)
	if diff := cmp.Diff(rt.Snapshot(), restored.Snapshot()); diff != "" {
		t.Errorf("restored snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsRepository_LoadRuntime_Corrupt(t *testing.T) {
	s := newTestStore(t)
	if err := s.Settings().Set(RuntimeSettingsKey, "{broken"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Settings().LoadRuntime(); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("LoadRuntime() error = %v, want decode error", err)
	}
}
