// Package persist writes crash-safe point-in-time ledger snapshots. The
// write protocol is temp-file + fsync + backup rotation + atomic rename, so
// a power cut mid-write always leaves either the previous snapshot or the
// new one on disk, never a torn file.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keel/internal/ledger"
	"keel/internal/logger"

	"github.com/tidwall/gjson"
)

// ErrCorrupt: neither the current snapshot nor its backup is usable.
// Starting from zero silently would be silent capital loss, so this is fatal
// for the symbol until an operator intervenes.
var ErrCorrupt = errors.New("persist: snapshot and backup both unusable")

// ErrVersionRegression: the on-disk version is older than state already in
// memory, which means two processes wrote the same symbol (split brain).
var ErrVersionRegression = errors.New("persist: snapshot version regression")

// snapshot is the on-disk envelope around a ledger serialization.
type snapshot struct {
	SchemaVersion int            `json:"schema_version"`
	SavedAt       time.Time      `json:"saved_at"`
	Ledger        *ledger.Ledger `json:"ledger"`
}

// Store persists one file-triplet (current, temp, backup) per symbol inside
// a base directory. Each symbol's paths are exclusive to its engine.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("persist: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) finalPath(symbol string) string {
	return filepath.Join(s.dir, strings.ToUpper(symbol)+".json")
}

func (s *Store) tempPath(symbol string) string {
	return s.finalPath(symbol) + ".tmp"
}

func (s *Store) backupPath(symbol string) string {
	return s.finalPath(symbol) + ".bak"
}

// Save durably snapshots the ledger, incrementing its version counter. The
// version bump happens before serialization so the persisted counter always
// reflects this save.
func (s *Store) Save(l *ledger.Ledger) error {
	if l == nil || strings.TrimSpace(l.Symbol) == "" {
		return fmt.Errorf("persist: ledger with symbol required")
	}
	l.Version++
	snap := snapshot{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now().UTC(),
		Ledger:        l,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		l.Version--
		return fmt.Errorf("persist: marshal: %w", err)
	}

	tmp := s.tempPath(l.Symbol)
	final := s.finalPath(l.Symbol)
	if err := writeFileSync(tmp, data); err != nil {
		l.Version--
		return err
	}
	// Rotate the previous snapshot to backup before the rename clobbers it.
	if _, statErr := os.Stat(final); statErr == nil {
		if err := os.Rename(final, s.backupPath(l.Symbol)); err != nil {
			l.Version--
			return fmt.Errorf("persist: rotate backup: %w", err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		l.Version--
		return fmt.Errorf("persist: finalize: %w", err)
	}
	return nil
}

// Load reads the symbol's snapshot, preferring the current file and falling
// back to the backup. minVersion guards against split-brain restarts: a
// snapshot older than state the caller already holds is rejected.
func (s *Store) Load(symbol string, minVersion uint64) (*ledger.Ledger, error) {
	paths := []string{s.finalPath(symbol), s.backupPath(symbol)}
	var firstErr error
	for i, path := range paths {
		l, err := loadSnapshot(path)
		if err == nil {
			if l.Version < minVersion {
				return nil, fmt.Errorf("%w: disk=%d memory=%d", ErrVersionRegression, l.Version, minVersion)
			}
			if i > 0 {
				logger.Warnf("persist: %s recovered from backup snapshot", symbol)
			}
			return l, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Warnf("persist: %s snapshot unusable (%s): %v", symbol, filepath.Base(path), err)
		if firstErr == nil || errors.Is(firstErr, os.ErrNotExist) {
			firstErr = err
		}
	}
	if firstErr != nil && errors.Is(firstErr, os.ErrNotExist) {
		// Nothing persisted yet: a genuinely fresh symbol.
		return nil, os.ErrNotExist
	}
	return nil, fmt.Errorf("%w: %v", ErrCorrupt, firstErr)
}

func loadSnapshot(path string) (*ledger.Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Cheap structural peek before schema validation: a torn write rarely
	// survives both checks.
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("not valid json")
	}
	sv := gjson.GetBytes(data, "schema_version")
	if !sv.Exists() || sv.Int() > SchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %q", sv.Raw)
	}
	docDec := json.NewDecoder(bytes.NewReader(data))
	docDec.UseNumber()
	var doc any
	if err := docDec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var snap snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Ledger == nil {
		return nil, fmt.Errorf("snapshot has no ledger")
	}
	return snap.Ledger, nil
}

// writeFileSync writes data and fsyncs before close, so the atomic rename
// that follows never publishes a file whose contents are still in flight.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("persist: open temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persist: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persist: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persist: close temp: %w", err)
	}
	return nil
}
