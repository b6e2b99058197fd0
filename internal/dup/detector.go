package dup

import (
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/ledger"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheSweep   = 10 * time.Minute
	maxReconcile = 3
)

// Detector answers "has someone already submitted this claim?" against the
// ledger. Lookups are fingerprint-indexed; a short-lived cache absorbs the
// repeated lookups a conversational loop produces.
type Detector struct {
	store ledger.Store
	cache *gocache.Cache
}

func NewDetector(store ledger.Store) *Detector {
	return &Detector{
		store: store,
		cache: gocache.New(cacheTTL, cacheSweep),
	}
}

// FindMatches returns the claim ids of open (not closed) claims sharing the
// fingerprint, most recent first, excluding the candidate itself. A nil or
// empty result means no duplicates are known.
func (d *Detector) FindMatches(fingerprint, excludeClaimID string) ([]string, error) {
	if fingerprint == "" {
		return nil, nil
	}

	if cached, ok := d.cache.Get(fingerprint); ok {
		return filterMatches(cached.([]ledger.ClaimRecord), excludeClaimID), nil
	}

	recs, err := d.store.ListClaimsByFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	d.cache.Set(fingerprint, recs, gocache.DefaultExpiration)
	return filterMatches(recs, excludeClaimID), nil
}

// Invalidate drops the cached lookup for a fingerprint. Called after a
// registration commits so the next lookup sees it.
func (d *Detector) Invalidate(fingerprint string) {
	d.cache.Delete(fingerprint)
}

// Reconcile backfills duplicateOf references between the given claim and any
// open claims sharing its fingerprint. Two concurrent registrations can both
// pass the pre-commit check; this post-commit pass is what surfaces that
// race. Updates are best-effort: a version conflict on the peer is retried a
// few times, then skipped; the next reconcile run catches it.
func (d *Detector) Reconcile(claimID string) ([]string, error) {
	rec, ok := d.store.GetClaim(claimID)
	if !ok {
		return nil, ledger.ErrClaimNotFound
	}
	if rec.Fingerprint == "" {
		return nil, nil
	}
	d.cache.Delete(rec.Fingerprint)

	peers, err := d.store.ListClaimsByFingerprint(rec.Fingerprint)
	if err != nil {
		return nil, err
	}

	flagged := []string{}
	for _, peer := range peers {
		if peer.ClaimID == claimID || claim.Stage(peer.Stage).Closed() {
			continue
		}
		flagged = append(flagged, peer.ClaimID)
		if err := d.flagPair(claimID, peer.ClaimID); err != nil {
			return flagged, err
		}
		if err := d.flagPair(peer.ClaimID, claimID); err != nil {
			return flagged, err
		}
	}
	return flagged, nil
}

// flagPair adds refID to the duplicateOf list of claimID.
func (d *Detector) flagPair(claimID, refID string) error {
	for attempt := 0; attempt < maxReconcile; attempt++ {
		rec, ok := d.store.GetClaim(claimID)
		if !ok {
			return ledger.ErrClaimNotFound
		}
		c, err := claim.Decode(rec.BodyJSON)
		if err != nil {
			return err
		}
		if !c.AddDuplicateRef(refID) {
			return nil
		}
		body, err := c.Encode()
		if err != nil {
			return err
		}
		rec.BodyJSON = body
		err = d.store.UpdateClaim(rec, rec.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrVersionConflict) {
			return err
		}
	}
	// Persistent contention; leave it for the next pass.
	return nil
}

func filterMatches(recs []ledger.ClaimRecord, excludeClaimID string) []string {
	out := []string{}
	for _, rec := range recs {
		if rec.ClaimID == excludeClaimID {
			continue
		}
		if claim.Stage(rec.Stage).Closed() {
			continue
		}
		out = append(out, rec.ClaimID)
	}
	return out
}
