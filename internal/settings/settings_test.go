package settings

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTemp(t)

	if err := s.Put(KeyTimeRangePreset, "6h"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := s.Get(KeyTimeRangePreset)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || got != "6h" {
		t.Errorf("Get = (%q, %v), want (%q, true)", got, ok, "6h")
	}
}

func TestGetMissingKey(t *testing.T) {
	s := openTemp(t)

	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected missing key to report ok=false")
	}
}

func TestPutOverwrites(t *testing.T) {
	s := openTemp(t)

	if err := s.Put(KeyMaxTraces, "100"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(KeyMaxTraces, "500"); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.Get(KeyMaxTraces)
	if err != nil {
		t.Fatal(err)
	}
	if got != "500" {
		t.Errorf("got %q after overwrite, want 500", got)
	}
}

func TestDelete(t *testing.T) {
	s := openTemp(t)

	if err := s.Put(KeyLastDirectory, "/tmp/telemetry"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(KeyLastDirectory); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get(KeyLastDirectory); ok {
		t.Error("key still present after Delete")
	}

	// Deleting an absent key is fine.
	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete of absent key: %v", err)
	}
}

func TestKeysSorted(t *testing.T) {
	s := openTemp(t)

	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := s.Put(k, "x"); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(KeyPollingIntervalMs, "2000"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(KeyPollingIntervalMs)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != "2000" {
		t.Errorf("after reopen Get = (%q, %v), want (2000, true)", got, ok)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	s := openTemp(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.Put("k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
	if _, _, err := s.Get("k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	// Double close is a no-op.
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}
