package aml

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestComponentScore(t *testing.T) {
	cases := []struct {
		score float64
		want  float64
	}{
		{0, 10},
		{1.9, 10},
		{2, 35},
		{3.5, 35},
		{4, 60},
		{5.9, 60},
		{6, 85},
		{7.9, 85},
		{8, 100},
		{10, 100},
	}
	for _, tc := range cases {
		if got := ComponentScore(tc.score); got != tc.want {
			t.Errorf("ComponentScore(%.1f) = %.0f, want %.0f", tc.score, got, tc.want)
		}
	}
}

func TestAutoBlockCriticalIndicator(t *testing.T) {
	s := &Signal{
		Score: 3.0,
		Indicators: []Indicator{
			{Type: "sanctions", Name: "OFAC SDN"},
		},
	}
	if !AutoBlock(s) {
		t.Error("a single sanctions indicator must auto-block")
	}
}

func TestAutoBlockTwoHighIndicators(t *testing.T) {
	s := &Signal{
		Score: 4.0,
		Indicators: []Indicator{
			{Type: "mixer", Name: "Tornado Cash"},
			{Type: "scam", Name: "Rug pull cluster"},
		},
	}
	if !AutoBlock(s) {
		t.Error("two distinct high-severity indicators must auto-block")
	}
}

func TestAutoBlockSingleHighIndicatorDoesNot(t *testing.T) {
	s := &Signal{
		Score:      4.0,
		Indicators: []Indicator{{Type: "mixer"}},
	}
	if AutoBlock(s) {
		t.Error("one high-severity indicator alone must not auto-block")
	}
}

func TestAutoBlockDuplicateHighTypeCountsOnce(t *testing.T) {
	s := &Signal{
		Indicators: []Indicator{
			{Type: "scam", Name: "cluster A"},
			{Type: "scam", Name: "cluster B"},
		},
	}
	if AutoBlock(s) {
		t.Error("duplicate indicator types must count once")
	}
}

func TestAutoBlockNilAndUnknownTypes(t *testing.T) {
	if AutoBlock(nil) {
		t.Error("nil signal must not auto-block")
	}
	s := &Signal{Indicators: []Indicator{{Type: "gambling"}, {Type: "exchange"}}}
	if AutoBlock(s) {
		t.Error("unknown indicator types must not auto-block")
	}
}

func TestBlockReasons(t *testing.T) {
	s := &Signal{
		Indicators: []Indicator{
			{Type: "sanctions"},
			{Type: "mixer"},
			{Type: "mixer"},
			{Type: "gambling"},
		},
	}
	got := BlockReasons(s)
	if len(got) != 2 {
		t.Fatalf("expected 2 reasons, got %v", got)
	}
	if got[0] != "sanctions" || got[1] != "mixer" {
		t.Errorf("reasons = %v", got)
	}
}

func TestClientScreen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/screen" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req screenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ChainID != 84532 {
			t.Errorf("chain_id = %d", req.ChainID)
		}
		_ = json.NewEncoder(w).Encode(screenResponse{
			RiskScore:  7.2,
			Indicators: []Indicator{{Type: "mixer", Name: "Tornado Cash", Source: "vendor"}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", ChainID: 84532}, slog.Default())
	sig, err := c.Screen(context.Background(), "0x1234567890123456789012345678901234567890")
	if err != nil {
		t.Fatalf("Screen failed: %v", err)
	}
	if sig.Score != 7.2 {
		t.Errorf("score = %.1f", sig.Score)
	}
	if len(sig.Indicators) != 1 || sig.Indicators[0].Type != "mixer" {
		t.Errorf("indicators = %+v", sig.Indicators)
	}
}

func TestClientScreenRejectsOutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(screenResponse{RiskScore: 42})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, slog.Default())
	if _, err := c.Screen(context.Background(), "0x1234567890123456789012345678901234567890"); err == nil {
		t.Error("expected error for score outside 0-10")
	}
}

func TestClientScreenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, slog.Default())
	if _, err := c.Screen(context.Background(), "0x1234567890123456789012345678901234567890"); err == nil {
		t.Error("expected error for vendor 503")
	}
}
