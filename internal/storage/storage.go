package storage

import (
	"fmt"

	"lendingScope/internal/lending"
)

const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindPostgres = "postgres"
)

// OpenLedger opens one of the in-process ledgers. Postgres ledgers are opened
// through the postgres package.
func OpenLedger(kind, path string) (lending.Ledger, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryLedger(), nil
	case KindFile:
		l, err := OpenFileLedger(path)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported ledger kind %q", kind)
	}
}
