package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// TransferJournal is a custody layer that records each asset movement as a
// JSON line instead of executing it. Settlement happens out of band.
type TransferJournal struct {
	w *JsonlWriter
}

var _ lending.Custody = (*TransferJournal)(nil)

func NewTransferJournal(path string) *TransferJournal {
	return &TransferJournal{w: NewJsonlWriter(path)}
}

func (j *TransferJournal) Transfer(ctx context.Context, t model.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.w.Append(t); err != nil {
		return fmt.Errorf("journal transfer: %w", err)
	}
	return nil
}

// ReadTransfers returns every transfer recorded in the journal at path.
func ReadTransfers(path string) ([]model.Transfer, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var out []model.Transfer
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t model.Transfer
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", len(out)+1, err)
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}
