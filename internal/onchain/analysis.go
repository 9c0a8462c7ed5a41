package onchain

import (
	"sort"
	"time"
)

const (
	// rapidFireWindow and rapidFireCount define a transaction burst:
	// rapidFireCount or more transactions inside one rapidFireWindow.
	rapidFireWindow = 60 * time.Second
	rapidFireCount  = 3

	// gasOutlierMinTxs is the minimum history needed before gas usage
	// can be judged against the wallet's own median.
	gasOutlierMinTxs   = 5
	gasOutlierMultiple = 3

	// dustThresholdEth and dustClusterCount define dust clustering:
	// dustClusterCount or more transfers below dustThresholdEth.
	dustThresholdEth = 0.0001
	dustClusterCount = 5
)

// ComputeStats derives wallet statistics and pattern flags from normalized
// on-chain data. It is a pure function of the data and the reference time.
func ComputeStats(d *Data, now time.Time) Stats {
	s := Stats{
		TransactionCount: len(d.Transactions),
		HasActivity:      len(d.Transactions) > 0,
		IsContract:       d.IsContract,
		ZeroBalance:      d.BalanceWei == nil || d.BalanceWei.Sign() == 0,
	}

	if len(d.Transactions) == 0 {
		return s
	}

	// Sort a copy by timestamp; explorers usually return newest-first.
	txs := make([]Transaction, len(d.Transactions))
	copy(txs, d.Transactions)
	sort.Slice(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })

	age := now.Sub(txs[0].Timestamp)
	if age < 0 {
		age = 0
	}
	s.WalletAgeDays = int(age.Hours() / 24)

	var totalEth float64
	for _, tx := range txs {
		totalEth += tx.ValueEth()
	}
	s.AvgValueEth = totalEth / float64(len(txs))

	s.RapidFire = detectRapidFire(txs)
	s.GasOutliers = detectGasOutliers(txs)
	s.DustClustering = detectDustClustering(txs)

	return s
}

// detectRapidFire reports whether any rapidFireWindow span contains
// rapidFireCount or more transactions. txs must be sorted by timestamp.
func detectRapidFire(txs []Transaction) bool {
	if len(txs) < rapidFireCount {
		return false
	}
	for i := 0; i+rapidFireCount-1 < len(txs); i++ {
		span := txs[i+rapidFireCount-1].Timestamp.Sub(txs[i].Timestamp)
		if span <= rapidFireWindow {
			return true
		}
	}
	return false
}

// detectGasOutliers reports whether any transaction used more than
// gasOutlierMultiple times the wallet's median gas usage.
func detectGasOutliers(txs []Transaction) bool {
	if len(txs) < gasOutlierMinTxs {
		return false
	}

	used := make([]uint64, 0, len(txs))
	for _, tx := range txs {
		if tx.GasUsed > 0 {
			used = append(used, tx.GasUsed)
		}
	}
	if len(used) < gasOutlierMinTxs {
		return false
	}

	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	median := used[len(used)/2]
	if median == 0 {
		return false
	}

	for _, g := range used {
		if g > median*gasOutlierMultiple {
			return true
		}
	}
	return false
}

// detectDustClustering reports whether the wallet has dustClusterCount or
// more transfers below the dust threshold.
func detectDustClustering(txs []Transaction) bool {
	dust := 0
	for _, tx := range txs {
		v := tx.ValueEth()
		if v > 0 && v < dustThresholdEth {
			dust++
			if dust >= dustClusterCount {
				return true
			}
		}
	}
	return false
}
