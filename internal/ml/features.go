package ml

import (
	"sort"
	"strings"

	"github.com/mbd888/riskgate/internal/onchain"
)

// FeatureVector carries the wallet features the fraud model was trained
// on. Field order and JSON keys match the model's training schema
// exactly; the service rejects payloads with missing keys.
//
// ERC20 and contract-creation fields are always zero for now: the
// explorer endpoint we query returns plain transfers only. The model
// was trained with these columns present, so they are sent regardless.
type FeatureVector struct {
	TotalTransactions       float64 `json:"total_transactions"`
	TotalEtherSent          float64 `json:"total_ether_sent"`
	TotalEtherReceived      float64 `json:"total_ether_received"`
	TotalEtherSentContracts float64 `json:"total_ether_sent_contracts"`
	TotalEtherBalance       float64 `json:"total_ether_balance"`
	TotalERC20Txns          float64 `json:"total_erc20_tnxs"`

	AvgValReceived         float64 `json:"avg_val_received"`
	AvgValSent             float64 `json:"avg_val_sent"`
	AvgValueSentToContract float64 `json:"avg_value_sent_to_contract"`
	MaxValueReceived       float64 `json:"max_value_received"`
	MaxValSent             float64 `json:"max_val_sent"`
	MaxValueSentToContract float64 `json:"max_value_sent_to_contract"`
	MinValueReceived       float64 `json:"min_value_received"`
	MinValSent             float64 `json:"min_val_sent"`
	MinValueSentToContract float64 `json:"min_value_sent_to_contract"`

	TimeDiffFirstLastMins     float64 `json:"time_diff_between_first_and_last_mins"`
	AvgMinBetweenSentTxns     float64 `json:"avg_min_between_sent_tnx"`
	AvgMinBetweenReceivedTxns float64 `json:"avg_min_between_received_tnx"`

	SentTxns                    float64 `json:"sent_tnx"`
	ReceivedTxns                float64 `json:"received_tnx"`
	NumberOfCreatedContracts    float64 `json:"number_of_created_contracts"`
	UniqueReceivedFromAddresses float64 `json:"unique_received_from_addresses"`
	UniqueSentToAddresses       float64 `json:"unique_sent_to_addresses"`

	ERC20TotalEtherReceived         float64 `json:"erc20_total_ether_received"`
	ERC20TotalEtherSent             float64 `json:"erc20_total_ether_sent"`
	ERC20TotalEtherSentContract     float64 `json:"erc20_total_ether_sent_contract"`
	ERC20UniqSentAddr               float64 `json:"erc20_uniq_sent_addr"`
	ERC20UniqRecAddr                float64 `json:"erc20_uniq_rec_addr"`
	ERC20UniqSentAddr1              float64 `json:"erc20_uniq_sent_addr_1"`
	ERC20UniqRecContractAddr        float64 `json:"erc20_uniq_rec_contract_addr"`
	ERC20AvgTimeBetweenSentTxns     float64 `json:"erc20_avg_time_between_sent_tnx"`
	ERC20AvgTimeBetweenRecTxns      float64 `json:"erc20_avg_time_between_rec_tnx"`
	ERC20AvgTimeBetweenRec2Txns     float64 `json:"erc20_avg_time_between_rec_2_tnx"`
	ERC20AvgTimeBetweenContractTxns float64 `json:"erc20_avg_time_between_contract_tnx"`
	ERC20MinValRec                  float64 `json:"erc20_min_val_rec"`
	ERC20MaxValRec                  float64 `json:"erc20_max_val_rec"`
	ERC20AvgValRec                  float64 `json:"erc20_avg_val_rec"`
	ERC20MinValSent                 float64 `json:"erc20_min_val_sent"`
	ERC20MaxValSent                 float64 `json:"erc20_max_val_sent"`
	ERC20AvgValSent                 float64 `json:"erc20_avg_val_sent"`
	ERC20UniqSentTokenName          float64 `json:"erc20_uniq_sent_token_name"`
	ERC20UniqRecTokenName           float64 `json:"erc20_uniq_rec_token_name"`
	ERC20MostSentTokenType          float64 `json:"erc20_most_sent_token_type"`
	ERC20MostRecTokenType           float64 `json:"erc20_most_rec_token_type"`
}

// BuildFeatures derives the model feature vector from on-chain data.
// Direction is determined by string-comparing lowercased addresses, the
// same convention the explorer API uses.
func BuildFeatures(d *onchain.Data) FeatureVector {
	var fv FeatureVector
	if d == nil {
		return fv
	}

	addr := strings.ToLower(d.Address)
	fv.TotalTransactions = float64(len(d.Transactions))
	fv.TotalEtherBalance = d.BalanceEth()

	var sent, received []onchain.Transaction
	sentTo := map[string]bool{}
	receivedFrom := map[string]bool{}

	for _, tx := range d.Transactions {
		if strings.ToLower(tx.From) == addr {
			sent = append(sent, tx)
			sentTo[strings.ToLower(tx.To)] = true
		}
		if strings.ToLower(tx.To) == addr {
			received = append(received, tx)
			receivedFrom[strings.ToLower(tx.From)] = true
		}
	}

	fv.SentTxns = float64(len(sent))
	fv.ReceivedTxns = float64(len(received))
	fv.UniqueSentToAddresses = float64(len(sentTo))
	fv.UniqueReceivedFromAddresses = float64(len(receivedFrom))

	fv.TotalEtherSent, fv.AvgValSent, fv.MaxValSent, fv.MinValSent = valueStats(sent)
	fv.TotalEtherReceived, fv.AvgValReceived, fv.MaxValueReceived, fv.MinValueReceived = valueStats(received)

	fv.TimeDiffFirstLastMins = spanMinutes(d.Transactions)
	fv.AvgMinBetweenSentTxns = avgGapMinutes(sent)
	fv.AvgMinBetweenReceivedTxns = avgGapMinutes(received)

	return fv
}

func valueStats(txs []onchain.Transaction) (total, avg, max, min float64) {
	if len(txs) == 0 {
		return 0, 0, 0, 0
	}
	min = txs[0].ValueEth()
	for _, tx := range txs {
		v := tx.ValueEth()
		total += v
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	avg = total / float64(len(txs))
	return total, avg, max, min
}

func spanMinutes(txs []onchain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	first, last := txs[0].Timestamp, txs[0].Timestamp
	for _, tx := range txs[1:] {
		if tx.Timestamp.Before(first) {
			first = tx.Timestamp
		}
		if tx.Timestamp.After(last) {
			last = tx.Timestamp
		}
	}
	return last.Sub(first).Minutes()
}

func avgGapMinutes(txs []onchain.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	times := make([]int64, len(txs))
	for i, tx := range txs {
		times[i] = tx.Timestamp.Unix()
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	var total float64
	for i := 1; i < len(times); i++ {
		total += float64(times[i]-times[i-1]) / 60
	}
	return total / float64(len(times)-1)
}
