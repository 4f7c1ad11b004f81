// daemon_test.go - Rate limiter and health probe tests.

package main

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimiterWeightedCosts(t *testing.T) {
	prl := NewPeerRateLimiter(1, 8)

	// Submissions cost more than reads, so a full bucket covers exactly
	// two submissions before a third is refused.
	if !prl.Allow("10.0.0.1", submitCost) {
		t.Fatal("first submission refused on a full bucket")
	}
	if !prl.Allow("10.0.0.1", submitCost) {
		t.Fatal("second submission refused")
	}
	if prl.Allow("10.0.0.1", submitCost) {
		t.Fatal("third submission allowed past the burst ceiling")
	}

	// Buckets are per peer, so a fresh address has its own budget.
	if !prl.Allow("10.0.0.2", readCost) {
		t.Fatal("independent peer refused")
	}
}

func TestRateLimiterPrune(t *testing.T) {
	prl := NewPeerRateLimiter(10, 10)
	prl.Allow("10.0.0.1", readCost)
	prl.Allow("10.0.0.2", readCost)
	if got := prl.PeerCount(); got != 2 {
		t.Fatalf("tracked peers = %d, want 2", got)
	}

	// Nothing has been idle long enough yet.
	if removed := prl.Prune(time.Hour); removed != 0 {
		t.Fatalf("pruned %d fresh buckets", removed)
	}

	// With a zero idle window every bucket is stale.
	time.Sleep(time.Millisecond)
	if removed := prl.Prune(0); removed != 2 {
		t.Fatalf("pruned %d buckets, want 2", removed)
	}
	if got := prl.PeerCount(); got != 0 {
		t.Fatalf("tracked peers after prune = %d, want 0", got)
	}

	// An evicted peer starts over with a full bucket.
	if !prl.Allow("10.0.0.1", submitCost) {
		t.Fatal("evicted peer refused after prune")
	}
}

func TestHealthCheckerStatuses(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterComponent("ledger", func() error { return nil })

	report := hc.CheckHealth()
	if report.OverallStatus != Healthy {
		t.Fatalf("overall = %s, want healthy", report.OverallStatus)
	}

	// A Degradation impairs the report without failing it.
	hc.RegisterComponent("cache", func() error {
		return Degradation{Reason: "pending pool backlog: 2000 transactions"}
	})
	report = hc.CheckHealth()
	if report.OverallStatus != Degraded {
		t.Fatalf("overall = %s, want degraded", report.OverallStatus)
	}
	if report.Components[1].Message != "pending pool backlog: 2000 transactions" {
		t.Fatalf("degraded message = %q", report.Components[1].Message)
	}

	// Any plain error outranks a degradation.
	hc.RegisterComponent("prover", func() error { return errors.New("proving keys not loaded") })
	report = hc.CheckHealth()
	if report.OverallStatus != Unhealthy {
		t.Fatalf("overall = %s, want unhealthy", report.OverallStatus)
	}

	resp := CreateHealthResponse(report)
	if resp.Status != "error" {
		t.Fatalf("response status = %q, want error", resp.Status)
	}
}
