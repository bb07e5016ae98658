package facts

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	res, err := s.Store("u1", "My Coffee", "oat milk flat white", "preferences")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if res.WasUpdate {
		t.Error("expected first store not to be an update")
	}

	// Key normalization is lossless for round-trip.
	fact, ok := s.Get("u1", "my_coffee")
	if !ok {
		t.Fatal("expected fact under normalized key")
	}
	if fact.Value != "oat milk flat white" {
		t.Errorf("unexpected value: %q", fact.Value)
	}
	if fact.Category != "preferences" {
		t.Errorf("unexpected category: %q", fact.Category)
	}

	// Lookup by the original denormalized key also works.
	if _, ok := s.Get("u1", "My Coffee"); !ok {
		t.Error("expected fact via denormalized key")
	}
}

func TestStore_UpdateReportsPrevValue(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if _, err := s.Store("u1", "city", "Berlin", "personal"); err != nil {
		t.Fatal(err)
	}
	res, err := s.Store("u1", "city", "Lisbon", "personal")
	if err != nil {
		t.Fatal(err)
	}
	if !res.WasUpdate {
		t.Error("expected update")
	}
	if res.PrevValue != "Berlin" {
		t.Errorf("expected prev value Berlin, got %q", res.PrevValue)
	}
}

func TestStore_UnknownCategoryFoldsToOther(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if _, err := s.Store("u1", "thing", "value", "nonsense"); err != nil {
		t.Fatal(err)
	}
	fact, _ := s.Get("u1", "thing")
	if fact.Category != "other" {
		t.Errorf("expected category other, got %q", fact.Category)
	}
}

func TestStore_ListOrdering(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	for _, k := range []string{"a", "b", "c"} {
		if _, err := s.Store("u1", k, k, "context"); err != nil {
			t.Fatal(err)
		}
	}
	// Touch "a" so it becomes most recent.
	if _, err := s.Store("u1", "a", "updated", "context"); err != nil {
		t.Fatal(err)
	}

	list := s.List("u1", "")
	if len(list) != 3 {
		t.Fatalf("expected 3 facts, got %d", len(list))
	}
	if list[0].Key != "a" {
		t.Errorf("expected most recently updated first, got %q", list[0].Key)
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	s.Store("u1", "one", "1", "context")
	s.Store("u1", "two", "2", "context")

	ok, err := s.Delete("u1", "one")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete("u1", "one")
	if err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}

	n, err := s.ClearAll("u1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
}

func TestStore_ContextString(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if got := s.ContextString("u1", 20); got != "" {
		t.Errorf("expected empty context for no facts, got %q", got)
	}

	s.Store("u1", "coffee", "flat white", "preferences")
	got := s.ContextString("u1", 20)
	want := "Known facts about this user:\n- [preferences] coffee: flat white"
	if got != want {
		t.Errorf("context mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestStore_CorruptFileReadsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)

	path := filepath.Join(dir, filePrefix+"u1.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if facts := s.List("u1", ""); len(facts) != 0 {
		t.Errorf("expected empty list from corrupt file, got %d", len(facts))
	}

	// Next save overwrites the corrupt file.
	if _, err := s.Store("u1", "k", "v", "context"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("u1", "k"); !ok {
		t.Error("expected fact after overwriting corrupt file")
	}
}

func TestStore_FileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	dir := t.TempDir()
	s := NewStore(dir, nil)

	if _, err := s.Store("u1", "k", "v", "context"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, filePrefix+"u1.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}
