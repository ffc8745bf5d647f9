package lending_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	carol = common.HexToAddress("0xca70100000000000000000000000000000000003")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testPrices quotes every asset at the clock's current time unless a publish
// time was pinned.
type testPrices struct {
	mu      sync.Mutex
	clock   *testClock
	prices  map[string]uint64
	publish map[string]int64
	err     error
}

func (p *testPrices) Quote(ctx context.Context, asset string) (model.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return model.Quote{}, p.err
	}
	price, ok := p.prices[asset]
	if !ok {
		return model.Quote{}, fmt.Errorf("no price for %s", asset)
	}
	ts, ok := p.publish[asset]
	if !ok {
		ts = p.clock.Now().Unix()
	}
	return model.Quote{Asset: asset, Price: price, PublishTime: ts}, nil
}

func (p *testPrices) Set(asset string, price uint64) {
	p.mu.Lock()
	p.prices[asset] = price
	p.mu.Unlock()
}

func (p *testPrices) Pin(asset string, publishTime int64) {
	p.mu.Lock()
	p.publish[asset] = publishTime
	p.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []model.HealthAlert
}

func (s *recordingSink) Emit(ctx context.Context, alert model.HealthAlert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type recordingCustody struct {
	mu        sync.Mutex
	transfers []model.Transfer
	fail      error
}

func (c *recordingCustody) Transfer(ctx context.Context, t model.Transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.transfers = append(c.transfers, t)
	return nil
}

type fixedPlanner struct {
	plan lending.SeizurePlan
	seen lending.LiquidationInput
}

func (p *fixedPlanner) Plan(ctx context.Context, in lending.LiquidationInput) (lending.SeizurePlan, error) {
	p.seen = in
	return p.plan, nil
}

type testEnv struct {
	engine  *lending.Engine
	ledger  *storage.MemoryLedger
	clock   *testClock
	prices  *testPrices
	sink    *recordingSink
	custody *recordingCustody
}

func newTestEnv(t *testing.T, planner lending.SeizurePlanner) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	env := &testEnv{
		ledger: storage.NewMemoryLedger(),
		clock:  clock,
		prices: &testPrices{
			clock:   clock,
			prices:  map[string]uint64{"USDC": 1, "ETH": 1},
			publish: make(map[string]int64),
		},
		sink:    &recordingSink{},
		custody: &recordingCustody{},
	}
	cfg := lending.Config{
		Now:     clock.Now,
		Sink:    env.sink,
		Custody: env.custody,
	}
	if planner != nil {
		cfg.Planner = planner
	}
	env.engine = lending.NewEngine(cfg, env.ledger, env.prices, nil)
	return env
}

// newFundedEnv creates USDC and ETH pools, gives alice 100 USDC of collateral
// and bob 1000 ETH of liquidity.
func newFundedEnv(t *testing.T, planner lending.SeizurePlanner) *testEnv {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, planner)
	_, err := env.engine.InitPool(ctx, lending.DefaultPoolParams("USDC", 80, 75))
	require.NoError(err)
	_, err = env.engine.InitPool(ctx, lending.DefaultPoolParams("ETH", 80, 75))
	require.NoError(err)
	_, err = env.engine.InitPosition(ctx, alice, "USDC")
	require.NoError(err)
	_, err = env.engine.InitPosition(ctx, bob, "USDC")
	require.NoError(err)

	_, err = env.engine.Deposit(ctx, alice, "USDC", 100)
	require.NoError(err)
	_, err = env.engine.Deposit(ctx, bob, "ETH", 1000)
	require.NoError(err)
	return env
}

func TestInitPool(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, nil)

	pool, err := env.engine.InitPool(ctx, lending.DefaultPoolParams("USDC", 80, 75))
	require.NoError(err)
	require.Equal("USDC", pool.Asset)
	require.Equal(uint64(80), pool.LiquidationThreshold)
	require.Equal(uint64(75), pool.MaxLTV)
	require.Equal(uint64(200), pool.BaseRateBps)
	require.Equal(uint64(8000), pool.OptimalUtilizationBps)
	require.Zero(pool.TotalDeposited)

	_, err = env.engine.InitPool(ctx, lending.DefaultPoolParams("USDC", 80, 75))
	require.ErrorIs(err, lending.ErrPoolExists)

	_, err = env.engine.InitPool(ctx, lending.DefaultPoolParams("ETH", 80, 101))
	require.ErrorIs(err, lending.ErrOverLTV)
}

func TestInitPosition(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, nil)

	pos, err := env.engine.InitPosition(ctx, alice, "USDC")
	require.NoError(err)
	require.Equal(alice, pos.Owner)
	require.Equal(lending.HealthFactorMax, pos.HealthFactor)
	require.Equal(model.DefaultAlertThreshold, pos.Monitor.AlertThreshold)
	require.Equal(model.DefaultAlertFrequencyHours, pos.Monitor.AlertFrequencyHours)
	require.False(pos.Monitor.Enabled)
	require.Contains(pos.Assets, "USDC")

	_, err = env.engine.InitPosition(ctx, alice, "USDC")
	require.ErrorIs(err, lending.ErrPositionExists)
}

func TestDepositMintsShares(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	pool, err := env.engine.Pool(ctx, "USDC")
	require.NoError(err)
	require.Equal(uint64(100), pool.TotalDeposited)
	require.Equal(uint64(100), pool.TotalDepositShares)

	res, err := env.engine.Deposit(ctx, bob, "USDC", 50)
	require.NoError(err)
	require.Equal(uint64(50), res.Shares)

	pos, err := env.engine.Position(ctx, bob)
	require.NoError(err)
	require.Equal(uint64(50), pos.Assets["USDC"].Deposited)
	require.Equal(uint64(50), pos.Assets["USDC"].DepositShares)
	require.Equal(uint64(1000), pos.Assets["ETH"].Deposited)
	require.Equal(lending.HealthFactorMax, pos.HealthFactor)

	pool, err = env.engine.Pool(ctx, "USDC")
	require.NoError(err)
	require.Equal(uint64(150), pool.TotalDeposited)
	require.Equal(uint64(150), pool.TotalDepositShares)
}

func TestDepositValidation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Deposit(ctx, alice, "USDC", 0)
	require.ErrorIs(err, lending.ErrInvalidAmount)

	_, err = env.engine.Deposit(ctx, alice, "BTC", 10)
	require.ErrorIs(err, lending.ErrPoolNotFound)

	_, err = env.engine.Deposit(ctx, carol, "USDC", 10)
	require.ErrorIs(err, lending.ErrPositionNotFound)
}

func TestWithdraw(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Withdraw(ctx, alice, "USDC", 101)
	require.ErrorIs(err, lending.ErrInsufficientFunds)

	res, err := env.engine.Withdraw(ctx, alice, "USDC", 40)
	require.NoError(err)
	require.Equal(uint64(40), res.Shares)

	res, err = env.engine.Withdraw(ctx, alice, "USDC", 60)
	require.NoError(err)
	require.Equal(uint64(60), res.Shares)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Zero(pos.Assets["USDC"].Deposited)
	require.Zero(pos.Assets["USDC"].DepositShares)

	pool, err := env.engine.Pool(ctx, "USDC")
	require.NoError(err)
	require.Zero(pool.TotalDeposited)
	require.Zero(pool.TotalDepositShares)
}

func TestWithdrawUnderCollateralized(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)

	_, err = env.engine.Withdraw(ctx, alice, "USDC", 60)
	require.ErrorIs(err, lending.ErrUnderCollateralized)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(100), pos.Assets["USDC"].Deposited)
	require.Equal(uint64(20000), pos.HealthFactor)

	_, err = env.engine.Withdraw(ctx, alice, "USDC", 50)
	require.NoError(err)
}

func TestBorrow(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	res, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)
	require.Equal(uint64(50), res.Shares)
	require.Equal(uint64(20000), res.HealthFactor)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(50), pos.Assets["ETH"].Borrowed)
	require.Equal(uint64(50), pos.Assets["ETH"].BorrowShares)
	require.Equal(uint64(20000), pos.HealthFactor)

	pool, err := env.engine.Pool(ctx, "ETH")
	require.NoError(err)
	require.Equal(uint64(50), pool.TotalBorrowed)
	require.Equal(uint64(500), pool.UtilizationBps)
}

func TestBorrowLimits(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.InitPosition(ctx, carol, "USDC")
	require.NoError(err)
	_, err = env.engine.Borrow(ctx, carol, "ETH", 1)
	require.ErrorIs(err, lending.ErrOverBorrowableAmount)

	_, err = env.engine.Borrow(ctx, alice, "ETH", 1001)
	require.ErrorIs(err, lending.ErrInsufficientFunds)

	_, err = env.engine.Borrow(ctx, alice, "ETH", 0)
	require.ErrorIs(err, lending.ErrInvalidAmount)
}

func TestRepay(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)

	_, err = env.engine.Repay(ctx, alice, "ETH", 51)
	require.ErrorIs(err, lending.ErrOverRepay)

	_, err = env.engine.Repay(ctx, alice, "ETH", 20)
	require.NoError(err)
	_, err = env.engine.Repay(ctx, alice, "ETH", 30)
	require.NoError(err)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Zero(pos.Assets["ETH"].Borrowed)
	require.Zero(pos.Assets["ETH"].BorrowShares)
	require.Equal(lending.HealthFactorMax, pos.HealthFactor)

	pool, err := env.engine.Pool(ctx, "ETH")
	require.NoError(err)
	require.Zero(pool.TotalBorrowed)
	require.Zero(pool.TotalBorrowedShares)
}

func TestCustodyTransfers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 10)
	require.NoError(err)

	env.custody.mu.Lock()
	transfers := append([]model.Transfer(nil), env.custody.transfers...)
	env.custody.mu.Unlock()

	require.Len(transfers, 3)
	require.Equal(model.TransferDeposit, transfers[0].Kind)
	require.Equal(alice, transfers[0].From)
	require.Equal(common.Address{}, transfers[0].To)
	require.Equal(model.TransferBorrow, transfers[2].Kind)
	require.Equal(alice, transfers[2].To)
	require.Equal(uint64(10), transfers[2].Amount)
}

func TestCustodyFailureAborts(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	boom := errors.New("custody offline")
	env.custody.mu.Lock()
	env.custody.fail = boom
	env.custody.mu.Unlock()

	_, err := env.engine.Deposit(ctx, alice, "USDC", 10)
	require.ErrorIs(err, boom)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(100), pos.Assets["USDC"].Deposited)

	pool, err := env.engine.Pool(ctx, "USDC")
	require.NoError(err)
	require.Equal(uint64(100), pool.TotalDeposited)
}

func TestInterestAccrual(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, nil)

	params := lending.DefaultPoolParams("ETH", 80, 75)
	params.Slope1Bps = 0
	params.Slope2Bps = 0
	_, err := env.engine.InitPool(ctx, params)
	require.NoError(err)
	_, err = env.engine.InitPool(ctx, lending.DefaultPoolParams("USDC", 80, 75))
	require.NoError(err)
	_, err = env.engine.InitPosition(ctx, alice, "USDC")
	require.NoError(err)
	_, err = env.engine.InitPosition(ctx, bob, "USDC")
	require.NoError(err)

	_, err = env.engine.Deposit(ctx, bob, "ETH", 2_000_000)
	require.NoError(err)
	_, err = env.engine.Deposit(ctx, alice, "USDC", 10_000_000)
	require.NoError(err)
	_, err = env.engine.Borrow(ctx, alice, "ETH", 1_000_000)
	require.NoError(err)

	env.clock.Advance(time.Duration(lending.SecondsPerYear) * time.Second)
	interest, err := env.engine.AccruePool(ctx, "ETH")
	require.NoError(err)
	require.Equal(uint64(20_000), interest)

	pool, err := env.engine.Pool(ctx, "ETH")
	require.NoError(err)
	require.Equal(uint64(1_020_000), pool.TotalBorrowed)
	require.Equal(uint64(1_000_000), pool.TotalBorrowedShares)
	require.Equal(env.clock.Now().Unix(), pool.LastAccrualTime)

	interest, err = env.engine.AccruePool(ctx, "ETH")
	require.NoError(err)
	require.Zero(interest)
}

func TestRepayCollectsAccruedInterest(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.InitPosition(ctx, carol, "USDC")
	require.NoError(err)
	_, err = env.engine.Deposit(ctx, carol, "USDC", 100)
	require.NoError(err)
	_, err = env.engine.Borrow(ctx, alice, "ETH", 400)
	require.NoError(err)
	_, err = env.engine.Borrow(ctx, carol, "ETH", 400)
	require.NoError(err)

	// 80% utilization sits on the kink: 200 + 400 bps on 800 borrowed
	env.clock.Advance(time.Duration(lending.SecondsPerYear) * time.Second)
	_, err = env.engine.AccruePool(ctx, "ETH")
	require.NoError(err)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(424), pos.Holding("ETH").Borrowed)

	v, err := env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(424), v.TotalBorrowedValue)

	_, err = env.engine.Repay(ctx, alice, "ETH", 425)
	require.ErrorIs(err, lending.ErrOverRepay)

	repaid := uint64(400)
	_, err = env.engine.Repay(ctx, alice, "ETH", 400)
	require.NoError(err)

	pos, err = env.engine.Position(ctx, carol)
	require.NoError(err)
	require.Equal(uint64(424), pos.Holding("ETH").Borrowed)

	for _, owner := range []common.Address{alice, carol} {
		pos, err := env.engine.Position(ctx, owner)
		require.NoError(err)
		owed := pos.Holding("ETH").Borrowed
		require.NotZero(owed)

		_, err = env.engine.Repay(ctx, owner, "ETH", owed)
		require.NoError(err)
		repaid += owed

		pos, err = env.engine.Position(ctx, owner)
		require.NoError(err)
		require.Zero(pos.Holding("ETH").Borrowed)
		require.Zero(pos.Holding("ETH").BorrowShares)
	}
	require.Equal(uint64(848), repaid)

	pool, err := env.engine.Pool(ctx, "ETH")
	require.NoError(err)
	require.Zero(pool.TotalBorrowed)
	require.Zero(pool.TotalBorrowedShares)
}

func TestOracleMaxAgeIsCapped(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	capped := lending.NewEngine(lending.Config{
		OracleMaxAge: 48 * time.Hour,
		Now:          env.clock.Now,
	}, env.ledger, env.prices, nil)

	env.prices.Pin("ETH", env.clock.Now().Unix()-int64(lending.DefaultOracleMaxAge/time.Second)-1)
	_, err := capped.Borrow(ctx, alice, "ETH", 10)
	require.ErrorIs(err, lending.ErrStalePrice)
}

func TestAccrueAll(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)
	env.clock.Advance(365 * 24 * time.Hour)

	require.NoError(env.engine.AccrueAll(ctx))

	pool, err := env.engine.Pool(ctx, "ETH")
	require.NoError(err)
	require.Greater(pool.TotalBorrowed, uint64(50))
}

func TestOracleFailures(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	env.prices.Pin("ETH", env.clock.Now().Unix()-int64(lending.DefaultOracleMaxAge/time.Second)-1)
	_, err := env.engine.Borrow(ctx, alice, "ETH", 10)
	require.ErrorIs(err, lending.ErrOracle)
	require.ErrorIs(err, lending.ErrStalePrice)

	var oerr *lending.OracleError
	require.ErrorAs(err, &oerr)
	require.Equal("ETH", oerr.Asset)

	env.prices.Pin("ETH", env.clock.Now().Unix())
	env.prices.Set("ETH", 0)
	_, err = env.engine.Borrow(ctx, alice, "ETH", 10)
	require.ErrorIs(err, lending.ErrOracle)
	require.ErrorIs(err, lending.ErrMalformedPrice)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Zero(pos.Holding("ETH").Borrowed)
}

func TestCheckHealthAlerts(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)
	require.NoError(env.engine.EnableMonitoring(ctx, alice))

	v, err := env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(20000), v.HealthFactor)
	require.Zero(env.sink.Len())

	env.prices.Set("ETH", 10_000)
	v, err = env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(100), v.TotalCollateralValue)
	require.Equal(uint64(500_000), v.TotalBorrowedValue)
	require.Equal(uint64(2), v.HealthFactor)
	require.Equal(1, env.sink.Len())

	env.sink.mu.Lock()
	alert := env.sink.alerts[0]
	env.sink.mu.Unlock()
	require.Equal(alice, alert.Owner)
	require.Equal(uint64(2), alert.HealthFactor)
	require.Equal(model.DefaultAlertThreshold, alert.AlertThreshold)
	require.NotEmpty(alert.ID)

	env.clock.Advance(time.Hour)
	_, err = env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Equal(1, env.sink.Len())

	env.clock.Advance(23 * time.Hour)
	_, err = env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Equal(2, env.sink.Len())

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(env.clock.Now().Unix(), pos.Monitor.LastAlertTime)
	require.Equal(env.clock.Now().Unix(), pos.LastHealthCheck)
}

func TestCheckHealthMonitoringDisabled(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)
	env.prices.Set("ETH", 10_000)

	_, err = env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Zero(env.sink.Len())

	require.NoError(env.engine.EnableMonitoring(ctx, alice))
	require.NoError(env.engine.DisableMonitoring(ctx, alice))
	_, err = env.engine.CheckHealth(ctx, alice)
	require.NoError(err)
	require.Zero(env.sink.Len())
}

func TestSetThreshold(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	require.ErrorIs(env.engine.SetThreshold(ctx, alice, 109, 24), lending.ErrInvalidThreshold)
	require.ErrorIs(env.engine.SetThreshold(ctx, alice, 301, 24), lending.ErrInvalidThreshold)
	require.ErrorIs(env.engine.SetThreshold(ctx, alice, 200, 0), lending.ErrInvalidAlertFrequency)
	require.ErrorIs(env.engine.SetThreshold(ctx, alice, 200, 169), lending.ErrInvalidAlertFrequency)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(model.DefaultAlertThreshold, pos.Monitor.AlertThreshold)

	require.NoError(env.engine.SetThreshold(ctx, alice, 110, 1))
	require.NoError(env.engine.SetThreshold(ctx, alice, 300, 168))

	pos, err = env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(300), pos.Monitor.AlertThreshold)
	require.Equal(uint64(168), pos.Monitor.AlertFrequencyHours)
}

func TestCreateSnapshot(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)

	first, err := env.engine.CreateSnapshot(ctx, alice)
	require.NoError(err)
	require.Zero(first.Index)
	require.Equal(uint64(20000), first.HealthFactor)
	require.Equal(uint64(1), first.Prices["ETH"])

	env.prices.Set("ETH", 2)
	env.clock.Advance(time.Minute)
	second, err := env.engine.CreateSnapshot(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(1), second.Index)
	require.Equal(uint64(10000), second.HealthFactor)

	snaps, err := env.engine.Snapshots(ctx, alice)
	require.NoError(err)
	require.Len(snaps, 2)
	require.Equal(first.Timestamp, snaps[0].Timestamp)
	require.Equal(uint64(1), snaps[0].Prices["ETH"])

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(2), pos.Monitor.SnapshotCount)
}

func TestLiquidateHealthyPosition(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, &fixedPlanner{})

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)

	_, err = env.engine.Liquidate(ctx, lending.LiquidationRequest{
		Liquidator:      bob,
		Borrower:        alice,
		DebtAsset:       "ETH",
		CollateralAsset: "USDC",
	})
	require.ErrorIs(err, lending.ErrNotUndercollateralized)
}

func TestLiquidateWithoutPlanner(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)
	env.prices.Set("ETH", 3)

	_, err = env.engine.Liquidate(ctx, lending.LiquidationRequest{
		Liquidator:      bob,
		Borrower:        alice,
		DebtAsset:       "ETH",
		CollateralAsset: "USDC",
	})
	require.ErrorIs(err, lending.ErrLiquidationUnavailable)
}

func TestLiquidate(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	planner := &fixedPlanner{plan: lending.SeizurePlan{RepayAmount: 25, SeizeAmount: 82}}
	env := newFundedEnv(t, planner)

	_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
	require.NoError(err)
	env.prices.Set("ETH", 3)

	req := lending.LiquidationRequest{
		Liquidator:      bob,
		Borrower:        alice,
		DebtAsset:       "ETH",
		CollateralAsset: "USDC",
	}
	res, err := env.engine.Liquidate(ctx, req)
	require.NoError(err)
	require.Equal(uint64(25), res.Repaid)
	require.Equal(uint64(82), res.Seized)
	require.Equal(uint64(6666), planner.seen.Valuation.HealthFactor)
	require.Equal(uint64(3), planner.seen.DebtPrice)

	pos, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	require.Equal(uint64(25), pos.Assets["ETH"].Borrowed)
	require.Equal(uint64(18), pos.Assets["USDC"].Deposited)

	eth, err := env.engine.Pool(ctx, "ETH")
	require.NoError(err)
	require.Equal(uint64(25), eth.TotalBorrowed)
	usdc, err := env.engine.Pool(ctx, "USDC")
	require.NoError(err)
	require.Equal(uint64(18), usdc.TotalDeposited)
}

func TestLiquidateRejectsOversizedPlan(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		plan lending.SeizurePlan
	}{
		{name: "over close factor", plan: lending.SeizurePlan{RepayAmount: 26, SeizeAmount: 10}},
		{name: "over bonus", plan: lending.SeizurePlan{RepayAmount: 25, SeizeAmount: 83}},
		{name: "zero repay", plan: lending.SeizurePlan{SeizeAmount: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require := require.New(t)
			env := newFundedEnv(t, &fixedPlanner{plan: tc.plan})

			_, err := env.engine.Borrow(ctx, alice, "ETH", 50)
			require.NoError(err)
			env.prices.Set("ETH", 3)

			_, err = env.engine.Liquidate(ctx, lending.LiquidationRequest{
				Liquidator:      bob,
				Borrower:        alice,
				DebtAsset:       "ETH",
				CollateralAsset: "USDC",
			})
			require.ErrorIs(err, lending.ErrSeizureBounds)

			pos, err := env.engine.Position(ctx, alice)
			require.NoError(err)
			require.Equal(uint64(50), pos.Assets["ETH"].Borrowed)
			require.Equal(uint64(100), pos.Assets["USDC"].Deposited)
		})
	}
}

func TestConcurrentDeposits(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		owner := alice
		if i%2 == 1 {
			owner = bob
		}
		go func(owner common.Address) {
			defer wg.Done()
			if _, err := env.engine.Deposit(ctx, owner, "USDC", 3); err != nil {
				errs <- err
			}
		}(owner)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}

	pool, err := env.engine.Pool(ctx, "USDC")
	require.NoError(err)
	require.Equal(uint64(400), pool.TotalDeposited)

	a, err := env.engine.Position(ctx, alice)
	require.NoError(err)
	b, err := env.engine.Position(ctx, bob)
	require.NoError(err)
	require.Equal(pool.TotalDeposited, a.Assets["USDC"].Deposited+b.Assets["USDC"].Deposited)
	require.Equal(pool.TotalDepositShares, a.Assets["USDC"].DepositShares+b.Assets["USDC"].DepositShares)
}

func TestPoolsView(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newFundedEnv(t, nil)

	pools, err := env.engine.Pools(ctx)
	require.NoError(err)
	require.Len(pools, 2)
	require.Equal("ETH", pools[0].Asset)
	require.Equal("USDC", pools[1].Asset)
	require.Equal(uint64(200), pools[0].BorrowRateBps)
	require.Zero(pools[0].SupplyRateBps)
}

func TestFormatBps(t *testing.T) {
	require := require.New(t)
	require.Equal("1.5", lending.FormatBps(15000))
	require.Equal("0.0002", lending.FormatBps(2))
	require.Equal("inf", lending.FormatBps(math.MaxUint64))
}
