package ledger

import (
	"sort"
	"sync"
)

// InMemoryStore backs tests and dev mode. All operations run under one lock,
// which also gives WithTx its atomicity.
type InMemoryStore struct {
	mu sync.Mutex

	claims  map[string]ClaimRecord
	audits  map[string][]AuditRecord
	outbox  map[string]OutboxRecord
	nextSeq int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		claims: make(map[string]ClaimRecord),
		audits: make(map[string][]AuditRecord),
		outbox: make(map[string]OutboxRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*memTx)(s))
}

func (s *InMemoryStore) CreateClaim(rec ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).CreateClaim(rec)
}

func (s *InMemoryStore) GetClaim(claimID string) (ClaimRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetClaim(claimID)
}

func (s *InMemoryStore) UpdateClaim(rec ClaimRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).UpdateClaim(rec, expectedVersion)
}

func (s *InMemoryStore) ListClaimsByFingerprint(fingerprint string) ([]ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).ListClaimsByFingerprint(fingerprint)
}

func (s *InMemoryStore) AppendAudit(rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).AppendAudit(rec)
}

func (s *InMemoryStore) ListAuditFor(claimID string) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).ListAuditFor(claimID)
}

func (s *InMemoryStore) LatestAudit(claimID string) (AuditRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).LatestAudit(claimID)
}

func (s *InMemoryStore) PutOutbox(rec OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).PutOutbox(rec)
}

func (s *InMemoryStore) GetOutbox(notificationID string) (OutboxRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).GetOutbox(notificationID)
}

func (s *InMemoryStore) ListOutboxDue(now string, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).ListOutboxDue(now, limit)
}

// memTx runs with the store lock already held.
type memTx InMemoryStore

func (t *memTx) CreateClaim(rec ClaimRecord) error {
	if _, ok := t.claims[rec.ClaimID]; ok {
		return ErrClaimExists
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	t.claims[rec.ClaimID] = rec
	return nil
}

func (t *memTx) GetClaim(claimID string) (ClaimRecord, bool) {
	rec, ok := t.claims[claimID]
	return rec, ok
}

func (t *memTx) UpdateClaim(rec ClaimRecord, expectedVersion int64) error {
	stored, ok := t.claims[rec.ClaimID]
	if !ok {
		return ErrClaimNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	rec.CreatedAt = stored.CreatedAt
	t.claims[rec.ClaimID] = rec
	return nil
}

func (t *memTx) ListClaimsByFingerprint(fingerprint string) ([]ClaimRecord, error) {
	out := []ClaimRecord{}
	for _, rec := range t.claims {
		if rec.Fingerprint == fingerprint {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out, nil
}

func (t *memTx) AppendAudit(rec AuditRecord) error {
	t.nextSeq++
	rec.Seq = t.nextSeq
	t.audits[rec.ClaimID] = append(t.audits[rec.ClaimID], rec)
	return nil
}

func (t *memTx) ListAuditFor(claimID string) ([]AuditRecord, error) {
	entries := t.audits[claimID]
	out := make([]AuditRecord, len(entries))
	copy(out, entries)
	return out, nil
}

func (t *memTx) LatestAudit(claimID string) (AuditRecord, bool) {
	entries := t.audits[claimID]
	if len(entries) == 0 {
		return AuditRecord{}, false
	}
	return entries[len(entries)-1], true
}

func (t *memTx) PutOutbox(rec OutboxRecord) error {
	t.outbox[rec.NotificationID] = rec
	return nil
}

func (t *memTx) GetOutbox(notificationID string) (OutboxRecord, bool) {
	rec, ok := t.outbox[notificationID]
	return rec, ok
}

func (t *memTx) ListOutboxDue(now string, limit int) ([]OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []OutboxRecord{}
	for _, rec := range t.outbox {
		if rec.Status != OutboxPending {
			continue
		}
		if rec.NextAttemptAt > now {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
