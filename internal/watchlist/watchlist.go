// Package watchlist reads the set of bills the poller keeps in sync.
package watchlist

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultInterval = 15 * time.Minute
	// MinInterval keeps a misconfigured file from hammering the upstream API.
	MinInterval = time.Minute
)

type Watchlist struct {
	Bills    []int64       `yaml:"bills"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads and validates a YAML watchlist such as
//
//	bills: [1234567, 1234890]
//	interval: 30m
func Load(path string) (Watchlist, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Watchlist, error) {
	var w Watchlist
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Watchlist{}, fmt.Errorf("decode watchlist: %w", err)
	}
	if w.Interval == 0 {
		w.Interval = DefaultInterval
	}
	if w.Interval < MinInterval {
		return Watchlist{}, fmt.Errorf("interval %s is below the minimum of %s", w.Interval, MinInterval)
	}

	seen := make(map[int64]struct{}, len(w.Bills))
	bills := make([]int64, 0, len(w.Bills))
	for _, id := range w.Bills {
		if id <= 0 {
			return Watchlist{}, fmt.Errorf("invalid bill id %d", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		bills = append(bills, id)
	}
	if len(bills) == 0 {
		return Watchlist{}, errors.New("watchlist has no bills")
	}
	w.Bills = bills
	return w, nil
}

// IDs returns the bill ids in the form the save flow takes.
func (w Watchlist) IDs() []string {
	ids := make([]string, len(w.Bills))
	for i, id := range w.Bills {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return ids
}
