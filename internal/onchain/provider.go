package onchain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Node is the subset of the RPC client the provider needs. Satisfied by
// *ethclient.Client; faked in tests.
type Node interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Config for the on-chain provider.
type Config struct {
	ExplorerAPIURL string
	ExplorerAPIKey string
	ChainID        int64
	Timeout        time.Duration
}

// Client fetches wallet history from an explorer API and balance/code from
// an RPC node.
type Client struct {
	cfg    Config
	node   Node
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates an on-chain provider over an existing node connection.
func NewClient(cfg Config, node Node, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		node:   node,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Dial connects to the RPC endpoint and returns a provider.
func Dial(cfg Config, rpcURL string, logger *slog.Logger) (*Client, error) {
	node, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connect to RPC: %w", err)
	}
	return NewClient(cfg, node, logger), nil
}

// explorerTx is the explorer API's transaction record.
type explorerTx struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	TimeStamp string `json:"timeStamp"`
	Gas       string `json:"gas"`
	GasUsed   string `json:"gasUsed"`
	IsError   string `json:"isError"`
}

// explorerResponse is the Etherscan-style envelope.
type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Fetch returns normalized on-chain data for the address. The transaction
// list comes from the explorer API; balance and contract detection from the
// RPC node. Node errors degrade to partial data rather than failing the
// fetch, provided the history call succeeded.
func (c *Client) Fetch(ctx context.Context, address string) (*Data, error) {
	txs, err := c.fetchTransactions(ctx, address)
	if err != nil {
		return nil, err
	}

	data := &Data{
		Address:      address,
		Transactions: txs,
		FetchedAt:    time.Now().UTC(),
	}

	addr := common.HexToAddress(address)
	if balance, err := c.node.BalanceAt(ctx, addr, nil); err != nil {
		c.logger.Warn("balance lookup failed", "address", address, "error", err)
	} else {
		data.BalanceWei = balance
	}

	if code, err := c.node.CodeAt(ctx, addr, nil); err != nil {
		c.logger.Warn("contract detection failed", "address", address, "error", err)
	} else {
		data.IsContract = len(code) > 0
	}

	return data, nil
}

func (c *Client) fetchTransactions(ctx context.Context, address string) ([]Transaction, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "asc")
	if c.cfg.ExplorerAPIKey != "" {
		q.Set("apikey", c.cfg.ExplorerAPIKey)
	}
	if c.cfg.ChainID != 0 {
		q.Set("chainid", strconv.FormatInt(c.cfg.ChainID, 10))
	}

	reqURL := c.cfg.ExplorerAPIURL + "/api?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create explorer request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	var envelope explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode explorer response: %w", err)
	}

	// Status "0" with a string result means "no transactions found" on
	// Etherscan-compatible APIs; treat as an empty wallet, not an error.
	var raw []explorerTx
	if err := json.Unmarshal(envelope.Result, &raw); err != nil {
		if envelope.Status == "0" {
			return nil, nil
		}
		return nil, fmt.Errorf("parse explorer result: %w", err)
	}

	txs := make([]Transaction, 0, len(raw))
	for _, e := range raw {
		tx, err := e.normalize()
		if err != nil {
			c.logger.Warn("skipping malformed transaction", "hash", e.Hash, "error", err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (e explorerTx) normalize() (Transaction, error) {
	ts, err := strconv.ParseInt(e.TimeStamp, 10, 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("bad timestamp %q", e.TimeStamp)
	}

	value, ok := new(big.Int).SetString(e.Value, 10)
	if !ok {
		return Transaction{}, fmt.Errorf("bad value %q", e.Value)
	}

	gas, _ := strconv.ParseUint(e.Gas, 10, 64)
	gasUsed, _ := strconv.ParseUint(e.GasUsed, 10, 64)

	return Transaction{
		Hash:      e.Hash,
		From:      e.From,
		To:        e.To,
		ValueWei:  value,
		Timestamp: time.Unix(ts, 0).UTC(),
		Gas:       gas,
		GasUsed:   gasUsed,
		IsError:   e.IsError == "1",
	}, nil
}
