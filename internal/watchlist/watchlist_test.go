package watchlist

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	w, err := Parse([]byte("bills: [1234, 5678, 1234]\ninterval: 30m\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if w.Interval != 30*time.Minute {
		t.Fatalf("interval = %s, want 30m", w.Interval)
	}
	ids := w.IDs()
	if len(ids) != 2 || ids[0] != "1234" || ids[1] != "5678" {
		t.Fatalf("ids = %v, want deduplicated [1234 5678]", ids)
	}
}

func TestParseDefaultsInterval(t *testing.T) {
	w, err := Parse([]byte("bills:\n  - 42\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if w.Interval != DefaultInterval {
		t.Fatalf("interval = %s, want %s", w.Interval, DefaultInterval)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no bills":       "interval: 30m\n",
		"negative id":    "bills: [-1]\n",
		"short interval": "bills: [1]\ninterval: 5s\n",
		"not yaml":       "bills: [1\n",
		"text id":        "bills: [abc]\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(input)); err == nil {
				t.Fatalf("expected error for %q", input)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yml")
	if err := os.WriteFile(path, []byte("bills: [7]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	w, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(w.Bills) != 1 || w.Bills[0] != 7 {
		t.Fatalf("unexpected watchlist: %+v", w)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
