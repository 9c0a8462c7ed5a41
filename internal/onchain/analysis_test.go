package onchain

import (
	"math/big"
	"testing"
	"time"
)

func eth(v float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(1e18)).Int(nil)
	return wei
}

func TestComputeStatsEmptyWallet(t *testing.T) {
	now := time.Now().UTC()
	d := &Data{Address: "0x1", BalanceWei: big.NewInt(0)}

	s := ComputeStats(d, now)
	if s.TransactionCount != 0 {
		t.Errorf("count = %d, want 0", s.TransactionCount)
	}
	if s.HasActivity {
		t.Error("empty wallet should have no activity")
	}
	if !s.ZeroBalance {
		t.Error("zero balance should be flagged")
	}
	if s.RapidFire || s.GasOutliers || s.DustClustering {
		t.Error("empty wallet should have no pattern flags")
	}
}

func TestComputeStatsWalletAge(t *testing.T) {
	now := time.Now().UTC()
	d := &Data{
		Address:    "0x1",
		BalanceWei: eth(1),
		Transactions: []Transaction{
			{ValueWei: eth(0.5), Timestamp: now.Add(-45 * 24 * time.Hour)},
			{ValueWei: eth(0.5), Timestamp: now.Add(-1 * 24 * time.Hour)},
		},
	}

	s := ComputeStats(d, now)
	if s.WalletAgeDays != 45 {
		t.Errorf("age = %d days, want 45", s.WalletAgeDays)
	}
	if s.TransactionCount != 2 {
		t.Errorf("count = %d, want 2", s.TransactionCount)
	}
	if s.ZeroBalance {
		t.Error("funded wallet flagged zero balance")
	}
}

func TestComputeStatsAvgValue(t *testing.T) {
	now := time.Now().UTC()
	d := &Data{
		Address:    "0x1",
		BalanceWei: eth(1),
		Transactions: []Transaction{
			{ValueWei: eth(1.0), Timestamp: now.Add(-2 * time.Hour)},
			{ValueWei: eth(3.0), Timestamp: now.Add(-1 * time.Hour)},
		},
	}

	s := ComputeStats(d, now)
	if s.AvgValueEth < 1.99 || s.AvgValueEth > 2.01 {
		t.Errorf("avg = %f, want ~2.0", s.AvgValueEth)
	}
}

func TestDetectRapidFire(t *testing.T) {
	now := time.Now().UTC()

	// Three transactions within 60 seconds → rapid fire
	burst := []Transaction{
		{ValueWei: eth(0.1), Timestamp: now},
		{ValueWei: eth(0.1), Timestamp: now.Add(20 * time.Second)},
		{ValueWei: eth(0.1), Timestamp: now.Add(50 * time.Second)},
	}
	if !detectRapidFire(burst) {
		t.Error("burst should be rapid fire")
	}

	// Spread out over hours → not rapid fire
	spread := []Transaction{
		{ValueWei: eth(0.1), Timestamp: now},
		{ValueWei: eth(0.1), Timestamp: now.Add(time.Hour)},
		{ValueWei: eth(0.1), Timestamp: now.Add(2 * time.Hour)},
	}
	if detectRapidFire(spread) {
		t.Error("spread transactions should not be rapid fire")
	}

	// Fewer than the burst count can never trigger
	if detectRapidFire(burst[:2]) {
		t.Error("two transactions cannot be rapid fire")
	}
}

func TestDetectGasOutliers(t *testing.T) {
	mk := func(gasUsed ...uint64) []Transaction {
		txs := make([]Transaction, len(gasUsed))
		for i, g := range gasUsed {
			txs[i] = Transaction{ValueWei: eth(0.1), GasUsed: g}
		}
		return txs
	}

	// Median 21000, one tx at 100000 (> 3×median) → outlier
	if !detectGasOutliers(mk(21000, 21000, 21000, 21000, 100000)) {
		t.Error("expected gas outlier")
	}

	// Uniform gas usage → no outlier
	if detectGasOutliers(mk(21000, 21000, 21000, 21000, 21000)) {
		t.Error("uniform gas should not be an outlier")
	}

	// Too little history → no judgment
	if detectGasOutliers(mk(21000, 100000)) {
		t.Error("thin history should not flag outliers")
	}
}

func TestDetectDustClustering(t *testing.T) {
	now := time.Now().UTC()

	dusty := make([]Transaction, 5)
	for i := range dusty {
		dusty[i] = Transaction{ValueWei: eth(0.00005), Timestamp: now}
	}
	if !detectDustClustering(dusty) {
		t.Error("five dust transfers should cluster")
	}

	normal := make([]Transaction, 10)
	for i := range normal {
		normal[i] = Transaction{ValueWei: eth(0.5), Timestamp: now}
	}
	if detectDustClustering(normal) {
		t.Error("normal values should not cluster as dust")
	}

	// Zero-value transactions are not dust
	zeros := make([]Transaction, 10)
	for i := range zeros {
		zeros[i] = Transaction{ValueWei: big.NewInt(0), Timestamp: now}
	}
	if detectDustClustering(zeros) {
		t.Error("zero-value transfers should not count as dust")
	}
}

func TestComputeStatsMonotonicAge(t *testing.T) {
	now := time.Now().UTC()
	mkData := func(ageDays int) *Data {
		return &Data{
			Address:    "0x1",
			BalanceWei: eth(1),
			Transactions: []Transaction{
				{ValueWei: eth(1), Timestamp: now.Add(-time.Duration(ageDays) * 24 * time.Hour)},
			},
		}
	}

	prev := -1
	for _, days := range []int{0, 5, 30, 90, 200} {
		s := ComputeStats(mkData(days), now)
		if s.WalletAgeDays < prev {
			t.Errorf("age should not decrease: %d days → %d", days, s.WalletAgeDays)
		}
		prev = s.WalletAgeDays
	}
}
