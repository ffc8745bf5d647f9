package model

import "github.com/ethereum/go-ethereum/common"

// HealthSnapshot is an immutable point-in-time record of a position's health,
// addressed by (Owner, Index).
type HealthSnapshot struct {
	Owner                common.Address    `json:"owner"`
	Index                uint64            `json:"index"`
	HealthFactor         uint64            `json:"health_factor"`
	TotalCollateralValue uint64            `json:"total_collateral_value"`
	TotalBorrowedValue   uint64            `json:"total_borrowed_value"`
	Timestamp            int64             `json:"timestamp"`
	Prices               map[string]uint64 `json:"prices"`
}

// HealthAlert is emitted when a monitored position falls below its threshold.
type HealthAlert struct {
	ID                   string            `json:"id"`
	Owner                common.Address    `json:"owner"`
	HealthFactor         uint64            `json:"health_factor"`
	AlertThreshold       uint64            `json:"alert_threshold"`
	TotalCollateralValue uint64            `json:"total_collateral_value"`
	TotalBorrowedValue   uint64            `json:"total_borrowed_value"`
	Prices               map[string]uint64 `json:"prices"`
	Timestamp            int64             `json:"timestamp"`
}
