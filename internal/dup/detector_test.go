package dup

import (
	"testing"
	"time"

	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/ledger"
)

func seedClaim(t *testing.T, store ledger.Store, claimID, fingerprint string, stage claim.Stage, createdAt string) {
	t.Helper()
	c := claim.New(claimID, time.Now())
	c.Stage = stage
	body, err := c.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", claimID, err)
	}
	err = store.CreateClaim(ledger.ClaimRecord{
		ClaimID:     claimID,
		Stage:       string(stage),
		Fingerprint: fingerprint,
		BodyJSON:    body,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	})
	if err != nil {
		t.Fatalf("create %s: %v", claimID, err)
	}
}

func TestFindMatchesExcludesSelfAndClosed(t *testing.T) {
	store := ledger.NewInMemoryStore()
	seedClaim(t, store, "CLM-1", "fp", claim.StageRegistered, "2026-01-01T00:00:00Z")
	seedClaim(t, store, "CLM-2", "fp", claim.StageClosed, "2026-01-02T00:00:00Z")
	seedClaim(t, store, "CLM-3", "fp", claim.StageValid, "2026-01-03T00:00:00Z")

	detector := NewDetector(store)
	matches, err := detector.FindMatches("fp", "CLM-3")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 1 || matches[0] != "CLM-1" {
		t.Fatalf("unexpected matches: %v", matches)
	}
}

func TestFindMatchesEmptyFingerprint(t *testing.T) {
	detector := NewDetector(ledger.NewInMemoryStore())
	matches, err := detector.FindMatches("", "CLM-1")
	if err != nil || matches != nil {
		t.Fatalf("empty fingerprint must be a no-op: %v %v", matches, err)
	}
}

func TestFindMatchesCacheInvalidate(t *testing.T) {
	store := ledger.NewInMemoryStore()
	detector := NewDetector(store)

	// Prime the (empty) cache entry.
	if matches, err := detector.FindMatches("fp", ""); err != nil || len(matches) != 0 {
		t.Fatalf("expected no matches: %v %v", matches, err)
	}

	seedClaim(t, store, "CLM-1", "fp", claim.StageRegistered, "2026-01-01T00:00:00Z")

	// Still served from cache.
	if matches, _ := detector.FindMatches("fp", ""); len(matches) != 0 {
		t.Fatalf("stale cache expected, got %v", matches)
	}

	detector.Invalidate("fp")
	matches, err := detector.FindMatches("fp", "")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected fresh lookup after invalidate: %v %v", matches, err)
	}
}

func TestReconcileBackfillsBothSides(t *testing.T) {
	store := ledger.NewInMemoryStore()
	seedClaim(t, store, "CLM-A", "fp", claim.StageRegistered, "2026-01-01T00:00:00Z")
	seedClaim(t, store, "CLM-B", "fp", claim.StageRegistered, "2026-01-02T00:00:00Z")

	detector := NewDetector(store)
	flagged, err := detector.Reconcile("CLM-B")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(flagged) != 1 || flagged[0] != "CLM-A" {
		t.Fatalf("unexpected flagged set: %v", flagged)
	}

	for claimID, want := range map[string]string{"CLM-A": "CLM-B", "CLM-B": "CLM-A"} {
		rec, _ := store.GetClaim(claimID)
		c, err := claim.Decode(rec.BodyJSON)
		if err != nil {
			t.Fatalf("decode %s: %v", claimID, err)
		}
		if len(c.DuplicateOf) != 1 || c.DuplicateOf[0] != want {
			t.Fatalf("%s duplicateOf=%v, want [%s]", claimID, c.DuplicateOf, want)
		}
	}

	// A second pass must be a no-op, not a duplicate ref.
	if _, err := detector.Reconcile("CLM-B"); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	rec, _ := store.GetClaim("CLM-A")
	c, _ := claim.Decode(rec.BodyJSON)
	if len(c.DuplicateOf) != 1 {
		t.Fatalf("reconcile not idempotent: %v", c.DuplicateOf)
	}
}

func TestReconcileSkipsClosedPeers(t *testing.T) {
	store := ledger.NewInMemoryStore()
	seedClaim(t, store, "CLM-A", "fp", claim.StageClosed, "2026-01-01T00:00:00Z")
	seedClaim(t, store, "CLM-B", "fp", claim.StageRegistered, "2026-01-02T00:00:00Z")

	detector := NewDetector(store)
	flagged, err := detector.Reconcile("CLM-B")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(flagged) != 0 {
		t.Fatalf("closed peer must not be flagged: %v", flagged)
	}
}
