package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// recordLock is a mutex that can be abandoned when the context ends.
type recordLock chan struct{}

func newRecordLock() recordLock { return make(recordLock, 1) }

func (l recordLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l recordLock) unlock() { <-l }

type poolEntry struct {
	lock recordLock
	pool *model.Pool
}

type positionEntry struct {
	lock     recordLock
	position *model.Position
}

// MemoryLedger keeps every record in process memory. Each pool and position
// has its own lock, held from first access until the transaction ends, so
// operations on unrelated records run in parallel.
type MemoryLedger struct {
	mu        sync.RWMutex
	pools     map[string]*poolEntry
	positions map[common.Address]*positionEntry
	snapshots map[common.Address][]model.HealthSnapshot

	// persist, when set, must durably store the given state before a commit
	// becomes visible.
	persist func(State) error
}

var _ lending.Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		pools:     make(map[string]*poolEntry),
		positions: make(map[common.Address]*positionEntry),
		snapshots: make(map[common.Address][]model.HealthSnapshot),
	}
}

// State is a full copy of a ledger's committed records.
type State struct {
	Pools     []model.Pool           `json:"pools"`
	Positions []model.Position       `json:"positions"`
	Snapshots []model.HealthSnapshot `json:"snapshots"`
}

func (l *MemoryLedger) load(st State) {
	for i := range st.Pools {
		p := st.Pools[i]
		l.pools[p.Asset] = &poolEntry{lock: newRecordLock(), pool: &p}
	}
	for i := range st.Positions {
		p := st.Positions[i].Clone()
		if p.Assets == nil {
			p.Assets = make(map[string]*model.AssetLedger)
		}
		l.positions[p.Owner] = &positionEntry{lock: newRecordLock(), position: p}
	}
	for _, s := range st.Snapshots {
		l.snapshots[s.Owner] = append(l.snapshots[s.Owner], s)
	}
}

func (l *MemoryLedger) Atomic(ctx context.Context, fn func(tx lending.Tx) error) error {
	tx := &memTx{
		ledger:    l,
		pools:     make(map[string]*model.Pool),
		positions: make(map[common.Address]*model.Position),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return l.commit(tx)
}

func (l *MemoryLedger) ListPools(ctx context.Context) ([]model.Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pools := make([]model.Pool, 0, len(l.pools))
	for _, e := range l.pools {
		pools = append(pools, *e.pool)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Asset < pools[j].Asset })
	return pools, nil
}

func (l *MemoryLedger) Snapshots(ctx context.Context, owner common.Address) ([]model.HealthSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snaps := l.snapshots[owner]
	out := make([]model.HealthSnapshot, len(snaps))
	copy(out, snaps)
	return out, nil
}

func (l *MemoryLedger) commit(tx *memTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range tx.newPools {
		if _, ok := l.pools[p.Asset]; ok {
			return lending.ErrPoolExists
		}
	}
	for _, p := range tx.newPositions {
		if _, ok := l.positions[p.Owner]; ok {
			return lending.ErrPositionExists
		}
	}
	for _, s := range tx.snapshots {
		for _, existing := range l.snapshots[s.Owner] {
			if existing.Index == s.Index {
				return lending.ErrSnapshotExists
			}
		}
	}

	if l.persist != nil {
		if err := l.persist(l.stateWith(tx)); err != nil {
			return fmt.Errorf("persist ledger: %w", err)
		}
	}

	for asset, p := range tx.pools {
		l.pools[asset].pool = p
	}
	for owner, p := range tx.positions {
		l.positions[owner].position = p
	}
	for _, p := range tx.newPools {
		l.pools[p.Asset] = &poolEntry{lock: newRecordLock(), pool: p}
	}
	for _, p := range tx.newPositions {
		l.positions[p.Owner] = &positionEntry{lock: newRecordLock(), position: p}
	}
	for _, s := range tx.snapshots {
		l.snapshots[s.Owner] = append(l.snapshots[s.Owner], s)
	}
	return nil
}

// stateWith returns the committed state with tx applied. Callers hold l.mu.
func (l *MemoryLedger) stateWith(tx *memTx) State {
	var st State
	for asset, e := range l.pools {
		if p, ok := tx.pools[asset]; ok {
			st.Pools = append(st.Pools, *p)
			continue
		}
		st.Pools = append(st.Pools, *e.pool)
	}
	for _, p := range tx.newPools {
		st.Pools = append(st.Pools, *p)
	}
	sort.Slice(st.Pools, func(i, j int) bool { return st.Pools[i].Asset < st.Pools[j].Asset })

	for owner, e := range l.positions {
		if p, ok := tx.positions[owner]; ok {
			st.Positions = append(st.Positions, *p)
			continue
		}
		st.Positions = append(st.Positions, *e.position)
	}
	for _, p := range tx.newPositions {
		st.Positions = append(st.Positions, *p)
	}
	sort.Slice(st.Positions, func(i, j int) bool {
		return st.Positions[i].Owner.Hex() < st.Positions[j].Owner.Hex()
	})

	owners := make([]common.Address, 0, len(l.snapshots))
	for owner := range l.snapshots {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Hex() < owners[j].Hex() })
	for _, owner := range owners {
		st.Snapshots = append(st.Snapshots, l.snapshots[owner]...)
	}
	st.Snapshots = append(st.Snapshots, tx.snapshots...)
	return st
}

type memTx struct {
	ledger *MemoryLedger

	pools     map[string]*model.Pool
	positions map[common.Address]*model.Position
	held      []recordLock

	newPools     []*model.Pool
	newPositions []*model.Position
	snapshots    []model.HealthSnapshot
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].unlock()
	}
	tx.held = nil
}

func (tx *memTx) Pool(ctx context.Context, asset string) (*model.Pool, error) {
	if p, ok := tx.pools[asset]; ok {
		return p, nil
	}
	for _, p := range tx.newPools {
		if p.Asset == asset {
			return p, nil
		}
	}

	tx.ledger.mu.RLock()
	e, ok := tx.ledger.pools[asset]
	tx.ledger.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrPoolNotFound, asset)
	}
	if err := e.lock.lock(ctx); err != nil {
		return nil, err
	}
	tx.held = append(tx.held, e.lock)

	tx.ledger.mu.RLock()
	p := e.pool.Clone()
	tx.ledger.mu.RUnlock()
	tx.pools[asset] = p
	return p, nil
}

func (tx *memTx) Position(ctx context.Context, owner common.Address) (*model.Position, error) {
	if p, ok := tx.positions[owner]; ok {
		return p, nil
	}
	for _, p := range tx.newPositions {
		if p.Owner == owner {
			return p, nil
		}
	}

	tx.ledger.mu.RLock()
	e, ok := tx.ledger.positions[owner]
	tx.ledger.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrPositionNotFound, owner.Hex())
	}
	if err := e.lock.lock(ctx); err != nil {
		return nil, err
	}
	tx.held = append(tx.held, e.lock)

	tx.ledger.mu.RLock()
	p := e.position.Clone()
	tx.ledger.mu.RUnlock()
	tx.positions[owner] = p
	return p, nil
}

func (tx *memTx) InsertPool(ctx context.Context, pool *model.Pool) error {
	tx.ledger.mu.RLock()
	_, exists := tx.ledger.pools[pool.Asset]
	tx.ledger.mu.RUnlock()
	if exists {
		return lending.ErrPoolExists
	}
	tx.newPools = append(tx.newPools, pool.Clone())
	return nil
}

func (tx *memTx) InsertPosition(ctx context.Context, pos *model.Position) error {
	tx.ledger.mu.RLock()
	_, exists := tx.ledger.positions[pos.Owner]
	tx.ledger.mu.RUnlock()
	if exists {
		return lending.ErrPositionExists
	}
	tx.newPositions = append(tx.newPositions, pos.Clone())
	return nil
}

func (tx *memTx) AppendSnapshot(ctx context.Context, snap model.HealthSnapshot) error {
	snap.Prices = copyPrices(snap.Prices)
	tx.snapshots = append(tx.snapshots, snap)
	return nil
}

func copyPrices(prices map[string]uint64) map[string]uint64 {
	if prices == nil {
		return nil
	}
	out := make(map[string]uint64, len(prices))
	for k, v := range prices {
		out[k] = v
	}
	return out
}
