package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// FileSource reads quotes from a JSON file keyed by asset:
//
//	{"ETH": {"price": 3000, "publish_time": 1700000000}}
//
// The file is re-read whenever its modification time changes.
type FileSource struct {
	path string

	mu      sync.RWMutex
	modTime time.Time
	quotes  map[string]model.Quote
}

var _ lending.PriceSource = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Quote(ctx context.Context, asset string) (model.Quote, error) {
	quotes, err := f.load()
	if err != nil {
		return model.Quote{}, err
	}
	q, ok := quotes[asset]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, asset)
	}
	q.Asset = asset
	return q, nil
}

func (f *FileSource) load() (map[string]model.Quote, error) {
	stat, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("stat prices file: %w", err)
	}

	f.mu.RLock()
	if f.quotes != nil && stat.ModTime().Equal(f.modTime) {
		quotes := f.quotes
		f.mu.RUnlock()
		return quotes, nil
	}
	f.mu.RUnlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read prices file: %w", err)
	}
	var quotes map[string]model.Quote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("parse prices file: %w", err)
	}

	f.mu.Lock()
	f.quotes = quotes
	f.modTime = stat.ModTime()
	f.mu.Unlock()
	return quotes, nil
}
