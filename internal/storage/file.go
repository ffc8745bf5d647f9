package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileLedger is a MemoryLedger whose committed state is mirrored to a JSON
// file. Every commit rewrites the file before becoming visible, so a crash
// leaves either the previous or the new state on disk.
type FileLedger struct {
	*MemoryLedger
	path string
}

type fileRecord struct {
	State
	UpdatedAt string `json:"updated_at"`
}

// OpenFileLedger loads path if it exists and starts an empty ledger otherwise.
func OpenFileLedger(path string) (*FileLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger file path is required")
	}
	l := &FileLedger{MemoryLedger: NewMemoryLedger(), path: path}

	st, ok, err := l.read()
	if err != nil {
		return nil, err
	}
	if ok {
		l.load(st)
	}
	l.persist = l.write
	return l, nil
}

func (l *FileLedger) Path() string {
	return l.path
}

func (l *FileLedger) read() (State, bool, error) {
	stat, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("stat ledger: %w", err)
	}
	if stat.IsDir() {
		return State{}, false, fmt.Errorf("ledger path is a directory")
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return State{}, false, fmt.Errorf("read ledger: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return State{}, false, fmt.Errorf("parse ledger: %w", err)
	}
	return rec.State, true, nil
}

func (l *FileLedger) write(st State) error {
	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	rec := fileRecord{
		State:     st,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}
