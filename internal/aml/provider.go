package aml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Provider screens a wallet address against an AML data vendor.
type Provider interface {
	Screen(ctx context.Context, address string) (*Signal, error)
}

// Config holds the screening vendor connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	ChainID int64
	Timeout time.Duration
}

// Client is an HTTP Provider for vendors exposing a POST /v1/screen
// endpoint with bearer authentication.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type screenRequest struct {
	ChainID int64  `json:"chain_id"`
	Address string `json:"address"`
}

type screenResponse struct {
	RiskScore  float64     `json:"risk_score"`
	Indicators []Indicator `json:"indicators"`
}

func (c *Client) Screen(ctx context.Context, address string) (*Signal, error) {
	body, err := json.Marshal(screenRequest{ChainID: c.cfg.ChainID, Address: address})
	if err != nil {
		return nil, fmt.Errorf("encode screen request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/screen", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create screen request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call screening vendor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screening vendor returned status %d", resp.StatusCode)
	}

	var out screenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode screen response: %w", err)
	}

	if out.RiskScore < 0 || out.RiskScore > 10 {
		return nil, fmt.Errorf("screening score %.2f outside 0-10 range", out.RiskScore)
	}

	return &Signal{Score: out.RiskScore, Indicators: out.Indicators}, nil
}
