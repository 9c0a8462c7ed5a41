// Package onchain fetches and normalizes blockchain activity for a wallet.
//
// Raw transaction history comes from an Etherscan-compatible explorer API;
// balance and contract detection come from an RPC node. The normalized
// result feeds the wallet-age, transaction-history, address-reputation,
// and behavior-pattern risk factors, and the ML feature vector.
package onchain

import (
	"context"
	"math/big"
	"time"
)

// Transaction is one normalized history entry.
type Transaction struct {
	Hash      string
	From      string
	To        string
	ValueWei  *big.Int
	Timestamp time.Time
	Gas       uint64
	GasUsed   uint64
	IsError   bool
}

// ValueEth returns the transaction value in ether.
func (t Transaction) ValueEth() float64 {
	if t.ValueWei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(t.ValueWei),
		big.NewFloat(1e18),
	).Float64()
	return f
}

// Data is the normalized on-chain signal for one wallet.
type Data struct {
	Address      string
	Transactions []Transaction
	BalanceWei   *big.Int
	IsContract   bool
	FetchedAt    time.Time
}

// BalanceEth returns the wallet balance in ether.
func (d *Data) BalanceEth() float64 {
	if d.BalanceWei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(d.BalanceWei),
		big.NewFloat(1e18),
	).Float64()
	return f
}

// Stats are the derived wallet statistics the scoring buckets consume.
type Stats struct {
	WalletAgeDays    int
	TransactionCount int
	AvgValueEth      float64
	HasActivity      bool
	ZeroBalance      bool
	IsContract       bool

	// Pattern flags
	RapidFire      bool // bursts of transactions inside short windows
	GasOutliers    bool // gas usage far above the wallet's own median
	DustClustering bool // many near-zero-value transfers
}

// Provider is the on-chain signal provider surface consumed by the aggregator.
type Provider interface {
	Fetch(ctx context.Context, address string) (*Data, error)
}
