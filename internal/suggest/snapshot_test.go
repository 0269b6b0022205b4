package suggest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "suggestions.json")
	e := newTestEngine(t, Options{Path: path})
	for i := 0; i < 3; i++ {
		e.Upsert(fakeTx{title: "Starbucks", category: "coffee", date: day(1 + i)})
	}
	e.Upsert(fakeTx{title: "Star Market", date: day(10)})
	e.Upsert(fakeTx{title: "Parking", category: "car", date: day(4)})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if !strings.Contains(string(data), `"version":1`) {
		t.Errorf("snapshot lacks version field: %s", data)
	}

	loaded := newTestEngine(t, Options{Path: path})
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, q := range []string{"star", "st", "arbucks", "park", "x", ""} {
		want := e.Query(q, 10)
		got := loaded.Query(q, 10)
		if len(got) != len(want) {
			t.Fatalf("Query(%q) after load = %v, want %v", q, titles(got), titles(want))
		}
		for i := range want {
			if got[i].Title != want[i].Title ||
				got[i].CategoryID != want[i].CategoryID ||
				got[i].Frequency != want[i].Frequency ||
				!got[i].LastUsed.Equal(want[i].LastUsed) {
				t.Errorf("Query(%q)[%d] = %+v, want %+v", q, i, got[i], want[i])
			}
		}
	}
}

func TestLoadLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestions.json")
	legacy := `[{"title":"Rent","categoryIdentifier":null,"frequency":4,"lastUsed":"2024-03-01T09:00:00Z"},
	            {"title":"Rental car","categoryIdentifier":"travel","frequency":1,"lastUsed":"2024-02-01T09:00:00Z"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, Options{Path: path})
	if err := e.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := e.Query("ren", 5)
	if len(got) != 2 || got[0].Title != "Rent" || got[0].Frequency != 4 {
		t.Errorf("Query(ren) = %+v", got)
	}
	if !got[0].LastUsed.Equal(time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("LastUsed = %v", got[0].LastUsed)
	}
}

func TestLoadFailuresStartEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"corrupt", `{"version":1,"items":[`, true},
		{"unknown version", `{"version":7,"items":[]}`, true},
		{"empty file", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "suggestions.json")
			e := newTestEngine(t, Options{Path: path})
			e.Upsert(fakeTx{title: "Stale", date: day(1)})
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			err := e.Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if e.Len() != 0 {
				t.Errorf("Len() = %d, want 0", e.Len())
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	e := newTestEngine(t, Options{Path: filepath.Join(t.TempDir(), "absent.json")})
	if err := e.Load(); err != nil {
		t.Errorf("Load() error = %v, want nil for a missing file", err)
	}
	if e.Len() != 0 {
		t.Errorf("Len() = %d, want 0", e.Len())
	}
}

func TestResetPersistsEmptyIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestions.json")
	e := newTestEngine(t, Options{Path: path})
	e.Upsert(fakeTx{title: "Dentist", date: day(1)})
	e.Reset()

	reloaded := newTestEngine(t, Options{Path: path})
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 0 {
		t.Errorf("Len() after reload = %d, want 0", reloaded.Len())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", entry.Name())
		}
	}
}
