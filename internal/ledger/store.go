package ledger

import "errors"

var (
	ErrClaimExists     = errors.New("claim already exists")
	ErrClaimNotFound   = errors.New("claim not found")
	ErrVersionConflict = errors.New("claim version conflict")
)

// ClaimRecord is the persisted form of a claim. Version implements optimistic
// concurrency: updates carry the version they were computed against and are
// rejected when the stored record has moved on.
type ClaimRecord struct {
	ClaimID     string
	Stage       string
	Version     int64
	Fingerprint string
	BodyJSON    []byte
	CreatedAt   string
	UpdatedAt   string
}

// AuditRecord is one transition attempt. Records are append-only and chained
// per claim: Digest covers the entry body plus the previous entry's digest.
type AuditRecord struct {
	AuditID     string
	Seq         int64
	ClaimID     string
	Stage       string
	Result      string // success | rejected | error
	Detail      string
	PrevDigest  string
	Digest      string
	AttemptedAt string
}

const (
	AuditSuccess  = "success"
	AuditRejected = "rejected"
	AuditError    = "error"
)

// OutboxRecord is a queued claimant notification awaiting delivery.
type OutboxRecord struct {
	NotificationID string
	ClaimID        string
	Recipient      string
	MessageJSON    []byte
	Status         string // pending | sent
	AttemptCount   int
	NextAttemptAt  string
	LastError      *string
	SentAt         *string
	CreatedAt      string
	UpdatedAt      string
}

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
)

// Ops is the operation set shared by Store and Tx.
type Ops interface {
	CreateClaim(rec ClaimRecord) error
	GetClaim(claimID string) (ClaimRecord, bool)
	// UpdateClaim persists rec if the stored version still equals
	// expectedVersion, bumping Version by one; otherwise ErrVersionConflict.
	UpdateClaim(rec ClaimRecord, expectedVersion int64) error
	// ListClaimsByFingerprint returns matching claims, most recent first.
	ListClaimsByFingerprint(fingerprint string) ([]ClaimRecord, error)

	AppendAudit(rec AuditRecord) error
	// ListAuditFor returns the claim's audit trail in chronological order.
	ListAuditFor(claimID string) ([]AuditRecord, error)
	LatestAudit(claimID string) (AuditRecord, bool)

	PutOutbox(rec OutboxRecord) error
	GetOutbox(notificationID string) (OutboxRecord, bool)
	ListOutboxDue(now string, limit int) ([]OutboxRecord, error)
}

type Tx interface {
	Ops
}

type Store interface {
	Ops
	WithTx(fn func(Tx) error) error
}
