package denylist

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const badAddr = "0xd60e50e519cd45bff2bb8814ab9e8c4e26e666e7"

func TestCheckNormalizesAddress(t *testing.T) {
	c := NewChecker()
	c.Replace("v1", []Entry{
		{Address: "0xD60E50E519CD45BFF2BB8814AB9E8C4E26E666E7", Reason: "stolen funds"},
	})

	// Mixed-case lookup should still match the lower-cased entry.
	e, ok := c.Check("0xD60e50E519cd45bff2bb8814AB9e8c4e26e666E7")
	if !ok {
		t.Fatal("expected deny-list hit")
	}
	if e.Address != badAddr {
		t.Errorf("entry address not normalized: %s", e.Address)
	}
	if e.Reason != "stolen funds" {
		t.Errorf("unexpected reason: %s", e.Reason)
	}
}

func TestCheckMiss(t *testing.T) {
	c := NewChecker()
	c.Replace("v1", []Entry{{Address: badAddr, Reason: "scam"}})

	if _, ok := c.Check("0x1111111111111111111111111111111111111111"); ok {
		t.Error("unexpected hit for clean address")
	}
}

func TestReplaceDropsMalformedEntries(t *testing.T) {
	c := NewChecker()
	c.Replace("v2", []Entry{
		{Address: badAddr, Reason: "scam"},
		{Address: "not-an-address", Reason: "junk"},
		{Address: "", Reason: "empty"},
	})

	if c.Len() != 1 {
		t.Errorf("expected 1 valid entry, got %d", c.Len())
	}
	if c.Version() != "v2" {
		t.Errorf("expected version v2, got %s", c.Version())
	}
}

func TestReplaceSwapsSnapshot(t *testing.T) {
	c := NewChecker()
	c.Replace("v1", []Entry{{Address: badAddr, Reason: "scam"}})
	c.Replace("v2", []Entry{{Address: "0x2222222222222222222222222222222222222222", Reason: "mixer"}})

	if _, ok := c.Check(badAddr); ok {
		t.Error("old entry should be gone after replace")
	}
	if _, ok := c.Check("0x2222222222222222222222222222222222222222"); !ok {
		t.Error("new entry should be present")
	}
}

func TestFileSource(t *testing.T) {
	doc := document{
		Version: "2026-01-15",
		Entries: []Entry{
			{Address: badAddr, Reason: "stolen funds", AddedAt: time.Now().UTC()},
		},
	}
	data, _ := json.Marshal(doc)

	path := filepath.Join(t.TempDir(), "denylist.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	version, entries, err := FileSource{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if version != "2026-01-15" {
		t.Errorf("version = %s", version)
	}
	if len(entries) != 1 || entries[0].Address != badAddr {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	_, _, err := FileSource{Path: "/nonexistent/denylist.json"}.Load(context.Background())
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(document{
			Version: "v3",
			Entries: []Entry{{Address: badAddr, Reason: "ransomware"}},
		})
	}))
	defer srv.Close()

	version, entries, err := HTTPSource{URL: srv.URL}.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if version != "v3" || len(entries) != 1 {
		t.Errorf("unexpected result: %s %+v", version, entries)
	}
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, _, err := HTTPSource{URL: srv.URL}.Load(context.Background())
	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestRefresherKeepsOldSnapshotOnFailure(t *testing.T) {
	c := NewChecker()
	c.Replace("v1", []Entry{{Address: badAddr, Reason: "scam"}})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewRefresher(c, HTTPSource{URL: srv.URL}, time.Hour, slog.Default())
	r.refresh(context.Background())

	if _, ok := c.Check(badAddr); !ok {
		t.Error("failed refresh must not clear the previous snapshot")
	}
}

func TestRefresherLoadOnce(t *testing.T) {
	c := NewChecker()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(document{Version: "v1", Entries: []Entry{{Address: badAddr}}})
	}))
	defer srv.Close()

	r := NewRefresher(c, HTTPSource{URL: srv.URL}, time.Hour, slog.Default())
	if err := r.LoadOnce(context.Background()); err != nil {
		t.Fatalf("LoadOnce failed: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry after LoadOnce, got %d", c.Len())
	}
}

func TestRefresherStop(t *testing.T) {
	c := NewChecker()
	r := NewRefresher(c, FileSource{Path: "/nonexistent"}, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	if !r.Running() {
		t.Fatal("refresher should be running")
	}

	r.Stop()
	time.Sleep(20 * time.Millisecond)
	if r.Running() {
		t.Error("refresher should have stopped")
	}
}

func TestRefresherStopAloneStopsLoop(t *testing.T) {
	c := NewChecker()
	r := NewRefresher(c, FileSource{Path: "/nonexistent"}, 10*time.Millisecond, slog.Default())

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !r.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Stop must be sufficient without a context cancel, and repeat
	// calls must not panic or block.
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher loop did not exit after Stop")
	}
}
