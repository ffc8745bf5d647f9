package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// ErrUnknownFeed is returned for an asset the source has no price for.
var ErrUnknownFeed = errors.New("no price feed for asset")

// Static serves fixed prices. Quotes without a publish time are stamped with
// the current time so they are always fresh.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
	now    func() time.Time
}

var _ lending.PriceSource = (*Static)(nil)

func NewStatic(prices map[string]uint64) *Static {
	s := &Static{quotes: make(map[string]model.Quote, len(prices)), now: time.Now}
	for asset, price := range prices {
		s.quotes[asset] = model.Quote{Asset: asset, Price: price}
	}
	return s
}

// Set replaces the quote for asset.
func (s *Static) Set(q model.Quote) {
	s.mu.Lock()
	s.quotes[q.Asset] = q
	s.mu.Unlock()
}

// SetPrice replaces the price for asset and clears its publish time.
func (s *Static) SetPrice(asset string, price uint64) {
	s.Set(model.Quote{Asset: asset, Price: price})
}

func (s *Static) Quote(ctx context.Context, asset string) (model.Quote, error) {
	s.mu.RLock()
	q, ok := s.quotes[asset]
	s.mu.RUnlock()
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, asset)
	}
	if q.PublishTime == 0 {
		q.PublishTime = s.now().Unix()
	}
	return q, nil
}
