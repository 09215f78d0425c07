// Package csv is the spec's own opportunity sink: a single append-only
// file, header written iff the file does not already exist.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sawpanic/arbitron/internal/arberr"
	"github.com/sawpanic/arbitron/internal/domain"
)

var header = []string{
	"timestamp", "arb_length", "arb_rate", "arb_surface",
	"asset_0", "asset_1", "asset_2", "asset_3", "asset_4", "asset_5", "asset_6", "asset_7",
}

// Store appends opportunity records to arbitrage_data.csv. Safe for
// concurrent use: writes are serialized behind a mutex.
type Store struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Open opens (or creates) path for append, writing the header exactly
// once — only when the file did not previously exist.
func Open(path string) (*Store, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, arberr.New(arberr.Persistence, "csv.Open", err)
	}

	w := csv.NewWriter(f)
	if !existed {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, arberr.New(arberr.Persistence, "csv.Open", fmt.Errorf("write header: %w", err))
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, arberr.New(arberr.Persistence, "csv.Open", err)
		}
	}

	return &Store{f: f, w: w}, nil
}

// Save appends one opportunity row and flushes immediately so a crash
// never loses an already-reported detection.
func (s *Store) Save(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := make([]string, 0, len(header))
	row = append(row,
		strconv.FormatInt(opp.Timestamp.UnixMilli(), 10),
		strconv.Itoa(opp.ArbLength),
		strconv.FormatFloat(opp.ArbRate, 'f', -1, 64),
		strconv.FormatFloat(opp.ArbSurface, 'f', -1, 64),
	)
	for _, a := range opp.Assets {
		row = append(row, a)
	}

	if err := s.w.Write(row); err != nil {
		return arberr.New(arberr.Persistence, "csv.Save", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return arberr.New(arberr.Persistence, "csv.Save", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// ParseTimestamp is a round-trip helper for tests and readers:
// timestamps are stored as Unix milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
