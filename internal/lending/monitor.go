package lending

import (
	"github.com/google/uuid"

	"lendingScope/internal/model"
)

const (
	MinAlertThreshold      uint64 = 110
	MaxAlertThreshold      uint64 = 300
	MinAlertFrequencyHours uint64 = 1
	MaxAlertFrequencyHours uint64 = 168

	secondsPerHour int64 = 3600
)

// ValidateThreshold checks alert settings before any mutation.
func ValidateThreshold(threshold, frequencyHours uint64) error {
	if threshold < MinAlertThreshold || threshold > MaxAlertThreshold {
		return ErrInvalidThreshold
	}
	if frequencyHours < MinAlertFrequencyHours || frequencyHours > MaxAlertFrequencyHours {
		return ErrInvalidAlertFrequency
	}
	return nil
}

// applyHealth stores a fresh valuation on the position and returns an alert
// when monitoring is on, health is below threshold, and the cooldown since the
// previous alert has elapsed. last_alert_time moves only when an alert fires.
func applyHealth(pos *model.Position, v Valuation, now int64) *model.HealthAlert {
	pos.HealthFactor = v.HealthFactor
	pos.LastHealthCheck = now

	m := &pos.Monitor
	if !m.Enabled || v.HealthFactor >= m.AlertThreshold {
		return nil
	}
	hours := (now - m.LastAlertTime) / secondsPerHour
	if hours < 0 || uint64(hours) < m.AlertFrequencyHours {
		return nil
	}
	m.LastAlertTime = now

	return &model.HealthAlert{
		ID:                   uuid.NewString(),
		Owner:                pos.Owner,
		HealthFactor:         v.HealthFactor,
		AlertThreshold:       m.AlertThreshold,
		TotalCollateralValue: v.TotalCollateralValue,
		TotalBorrowedValue:   v.TotalBorrowedValue,
		Prices:               v.Prices,
		Timestamp:            now,
	}
}

// buildSnapshot captures v at the position's current snapshot counter and
// advances the counter, saturating at its maximum.
func buildSnapshot(pos *model.Position, v Valuation, now int64) model.HealthSnapshot {
	snap := model.HealthSnapshot{
		Owner:                pos.Owner,
		Index:                pos.Monitor.SnapshotCount,
		HealthFactor:         v.HealthFactor,
		TotalCollateralValue: v.TotalCollateralValue,
		TotalBorrowedValue:   v.TotalBorrowedValue,
		Timestamp:            now,
		Prices:               v.Prices,
	}
	pos.Monitor.SnapshotCount = satAdd(pos.Monitor.SnapshotCount, 1)
	return snap
}
