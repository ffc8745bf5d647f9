package model

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultAlertThreshold      uint64 = 150
	DefaultAlertFrequencyHours uint64 = 24
)

// AssetLedger is a position's sub-ledger for a single asset.
type AssetLedger struct {
	Deposited     uint64 `json:"deposited"`
	DepositShares uint64 `json:"deposit_shares"`
	Borrowed      uint64 `json:"borrowed"`
	BorrowShares  uint64 `json:"borrow_shares"`
}

// IsZero reports whether the ledger holds nothing.
func (l AssetLedger) IsZero() bool {
	return l.Deposited == 0 && l.DepositShares == 0 && l.Borrowed == 0 && l.BorrowShares == 0
}

// Monitor holds the health alerting settings of a position.
type Monitor struct {
	AlertThreshold      uint64 `json:"alert_threshold"`
	AlertFrequencyHours uint64 `json:"alert_frequency_hours"`
	Enabled             bool   `json:"enabled"`
	LastAlertTime       int64  `json:"last_alert_time"`
	SnapshotCount       uint64 `json:"snapshot_count"`
}

// Position is a single owner's account across all supported assets.
type Position struct {
	Owner           common.Address          `json:"owner"`
	StableAsset     string                  `json:"stable_asset"`
	Assets          map[string]*AssetLedger `json:"assets"`
	HealthFactor    uint64                  `json:"health_factor"`
	LastUpdated     int64                   `json:"last_updated"`
	LastHealthCheck int64                   `json:"last_health_check"`
	Monitor         Monitor                 `json:"monitor"`
}

// NewPosition builds a position with default monitor settings.
func NewPosition(owner common.Address, stableAsset string, now int64) *Position {
	p := &Position{
		Owner:       owner,
		StableAsset: stableAsset,
		Assets:      make(map[string]*AssetLedger),
		LastUpdated: now,
		Monitor: Monitor{
			AlertThreshold:      DefaultAlertThreshold,
			AlertFrequencyHours: DefaultAlertFrequencyHours,
		},
	}
	if stableAsset != "" {
		p.Assets[stableAsset] = &AssetLedger{}
	}
	return p
}

// Ledger returns the sub-ledger for asset, creating it when missing.
func (p *Position) Ledger(asset string) *AssetLedger {
	if p.Assets == nil {
		p.Assets = make(map[string]*AssetLedger)
	}
	l, ok := p.Assets[asset]
	if !ok {
		l = &AssetLedger{}
		p.Assets[asset] = l
	}
	return l
}

// Holding returns a copy of the sub-ledger for asset without creating it.
func (p *Position) Holding(asset string) AssetLedger {
	if l, ok := p.Assets[asset]; ok && l != nil {
		return *l
	}
	return AssetLedger{}
}

// AssetIDs lists the assets with a sub-ledger, sorted.
func (p *Position) AssetIDs() []string {
	ids := make([]string, 0, len(p.Assets))
	for asset := range p.Assets {
		ids = append(ids, asset)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.Assets = make(map[string]*AssetLedger, len(p.Assets))
	for asset, l := range p.Assets {
		if l == nil {
			continue
		}
		copied := *l
		c.Assets[asset] = &copied
	}
	return &c
}
