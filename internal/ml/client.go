package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Predictor scores wallets with the external fraud model.
type Predictor interface {
	Predict(ctx context.Context, address string, features FeatureVector) (*Signal, error)
	PredictAnomaly(ctx context.Context, address string, features FeatureVector) (*AnomalySignal, error)
	IsAvailable(ctx context.Context) bool
}

// Config holds the model service connection settings.
type Config struct {
	BaseURL string
	ChainID int64
	Timeout time.Duration
}

// Client is an HTTP Predictor for the model service.
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

type predictRequest struct {
	WalletAddress string        `json:"wallet_address"`
	ChainID       int64         `json:"chain_id"`
	Features      FeatureVector `json:"features"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
}

// Predict returns the fraud-model score for the address.
func (c *Client) Predict(ctx context.Context, address string, features FeatureVector) (*Signal, error) {
	var out Signal
	if err := c.post(ctx, "/api/predict/", address, features, &out); err != nil {
		return nil, err
	}
	if out.FraudProbability < 0 || out.FraudProbability > 1 {
		return nil, fmt.Errorf("fraud probability %.3f outside 0-1 range", out.FraudProbability)
	}
	return &out, nil
}

// PredictAnomaly returns the outlier-detector result for the address.
func (c *Client) PredictAnomaly(ctx context.Context, address string, features FeatureVector) (*AnomalySignal, error) {
	var out AnomalySignal
	if err := c.post(ctx, "/api/predict/anomaly", address, features, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsAvailable reports whether the model service is up with its models
// loaded. A failed probe means the caller should fall back to rule-only
// scoring, so errors are logged and swallowed here.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("model service health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Status == "healthy" && out.ModelsLoaded
}

func (c *Client) post(ctx context.Context, path, address string, features FeatureVector, out any) error {
	body, err := json.Marshal(predictRequest{
		WalletAddress: address,
		ChainID:       c.cfg.ChainID,
		Features:      features,
	})
	if err != nil {
		return fmt.Errorf("encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call model service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}
