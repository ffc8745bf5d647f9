package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

const aggregatorV3ABIJSON = `[
  {
    "inputs": [],
    "name": "decimals",
    "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "latestRoundData",
    "outputs": [
      {"internalType": "uint80", "name": "roundId", "type": "uint80"},
      {"internalType": "int256", "name": "answer", "type": "int256"},
      {"internalType": "uint256", "name": "startedAt", "type": "uint256"},
      {"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
      {"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	aggregatorABI     abi.ABI
	aggregatorABIOnce sync.Once
	aggregatorABIErr  error
)

// AggregatorABI returns the parsed price feed ABI.
func AggregatorABI() (abi.ABI, error) {
	aggregatorABIOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// ContractCaller is the subset of chain.Client used to read feeds.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkConfig controls how feed answers are read and scaled.
type ChainlinkConfig struct {
	Feeds         map[string]common.Address
	PriceDecimals int32
	MaxRetries    int
	RetryBackoff  time.Duration
}

// Chainlink reads prices from AggregatorV3 feeds over eth_call. Answers are
// rescaled from the feed's decimals to PriceDecimals and truncated.
type Chainlink struct {
	caller ContractCaller
	cfg    ChainlinkConfig
	logger *zap.Logger

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

var _ lending.PriceSource = (*Chainlink)(nil)

func NewChainlink(cfg ChainlinkConfig, caller ContractCaller, logger *zap.Logger) *Chainlink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chainlink{
		caller:   caller,
		cfg:      cfg,
		logger:   logger,
		decimals: make(map[common.Address]uint8),
	}
}

func (c *Chainlink) Quote(ctx context.Context, asset string) (model.Quote, error) {
	feed, ok := c.cfg.Feeds[asset]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, asset)
	}
	parsed, err := AggregatorABI()
	if err != nil {
		return model.Quote{}, fmt.Errorf("parse aggregator abi: %w", err)
	}

	feedDecimals, err := c.feedDecimals(ctx, parsed, feed)
	if err != nil {
		return model.Quote{}, err
	}

	var values []interface{}
	err = withRetry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
		var callErr error
		values, callErr = callFeed(ctx, c.caller, parsed, feed, "latestRoundData")
		return callErr
	})
	if err != nil {
		c.logger.Warn("price feed call failed", zap.String("asset", asset), zap.String("feed", feed.Hex()), zap.Error(err))
		return model.Quote{}, err
	}
	if len(values) < 4 {
		return model.Quote{}, fmt.Errorf("latestRoundData: unexpected output length %d", len(values))
	}
	answer, err := asBigInt(values[1])
	if err != nil {
		return model.Quote{}, fmt.Errorf("answer: %w", err)
	}
	updatedAt, err := asBigInt(values[3])
	if err != nil {
		return model.Quote{}, fmt.Errorf("updatedAt: %w", err)
	}
	if updatedAt.Sign() < 0 || !updatedAt.IsInt64() {
		return model.Quote{}, fmt.Errorf("%s: updatedAt %s out of range", asset, updatedAt)
	}

	price, err := scaleAnswer(answer, feedDecimals, c.cfg.PriceDecimals)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%s: %w", asset, err)
	}
	return model.Quote{
		Asset:       asset,
		Price:       price,
		PublishTime: updatedAt.Int64(),
	}, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, parsed abi.ABI, feed common.Address) (uint8, error) {
	c.mu.RLock()
	d, ok := c.decimals[feed]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	var values []interface{}
	err := withRetry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
		var callErr error
		values, callErr = callFeed(ctx, c.caller, parsed, feed, "decimals")
		return callErr
	})
	if err != nil {
		return 0, err
	}
	d, ok = values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}

	c.mu.Lock()
	c.decimals[feed] = d
	c.mu.Unlock()
	return d, nil
}

func callFeed(ctx context.Context, caller ContractCaller, parsed abi.ABI, feed common.Address, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &feed, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty output", method)
	}
	return values, nil
}

// scaleAnswer converts a feed answer with feedDecimals into an integer price
// with priceDecimals. Non-positive answers are returned as zero so the engine
// rejects them as malformed.
func scaleAnswer(answer *big.Int, feedDecimals uint8, priceDecimals int32) (uint64, error) {
	if answer.Sign() <= 0 {
		return 0, nil
	}
	scaled := decimal.NewFromBigInt(answer, -int32(feedDecimals)).Shift(priceDecimals).BigInt()
	if !scaled.IsUint64() {
		return 0, fmt.Errorf("price %s overflows uint64", scaled.String())
	}
	return scaled.Uint64(), nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return v, nil
	case big.Int:
		return &v, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", value)
	}
}
