package model

import "github.com/ethereum/go-ethereum/common"

// Quote is a single price observation for an asset.
type Quote struct {
	Asset       string `json:"asset"`
	Price       uint64 `json:"price"`
	PublishTime int64  `json:"publish_time"`
}

// TransferKind labels why assets move between an owner and a pool.
type TransferKind string

const (
	TransferDeposit     TransferKind = "deposit"
	TransferWithdraw    TransferKind = "withdraw"
	TransferBorrow      TransferKind = "borrow"
	TransferRepay       TransferKind = "repay"
	TransferLiquidation TransferKind = "liquidation"
)

// Transfer is an instruction for the custody layer. A zero From or To address
// stands for the pool's own treasury.
type Transfer struct {
	Kind      TransferKind   `json:"kind"`
	Asset     string         `json:"asset"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	Timestamp int64          `json:"timestamp"`
}
