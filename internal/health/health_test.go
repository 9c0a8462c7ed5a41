package health

import (
	"context"
	"testing"
)

func TestEmptyRegistryIsHealthy(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should report healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("denylist", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("ml", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("expected healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	// Names come from registration, in registration order.
	if statuses[0].Name != "denylist" || statuses[1].Name != "ml" {
		t.Errorf("unexpected names: %q, %q", statuses[0].Name, statuses[1].Name)
	}
}

func TestOneUnhealthySubsystem(t *testing.T) {
	r := NewRegistry()
	r.Register("denylist", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("aml", func(ctx context.Context) Status {
		return Status{Healthy: false, Detail: "vendor unreachable"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("expected unhealthy aggregate")
	}

	var found bool
	for _, s := range statuses {
		if s.Name == "aml" && !s.Healthy && s.Detail == "vendor unreachable" {
			found = true
		}
	}
	if !found {
		t.Error("expected aml status with detail")
	}
}

func TestReregisterReplacesChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Healthy: false, Detail: "stale checker"}
	})
	r.Register("database", func(ctx context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("replacement checker should win")
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
}

func TestCheckerReceivesBoundedContext(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", func(ctx context.Context) Status {
		if _, ok := ctx.Deadline(); !ok {
			return Status{Healthy: false, Detail: "no deadline"}
		}
		return Status{Healthy: true}
	})

	healthy, _ := r.CheckAll(context.Background())
	if !healthy {
		t.Error("expected checker to see a deadline on its context")
	}
}
