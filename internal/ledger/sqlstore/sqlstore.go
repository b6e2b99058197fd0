// Package sqlstore implements the ledger store on SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/claimflow/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Migrate() error {
	return ledger.Migrate(s.db, ledger.DBSQLite)
}

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateClaim(rec ledger.ClaimRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.CreateClaim(rec) })
}

func (s *Store) GetClaim(claimID string) (ledger.ClaimRecord, bool) {
	return scanClaim(s.db.QueryRow(`SELECT claim_id, stage, version, fingerprint, body_json, created_at, updated_at
FROM claims WHERE claim_id = ?`, claimID))
}

func (s *Store) UpdateClaim(rec ledger.ClaimRecord, expectedVersion int64) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.UpdateClaim(rec, expectedVersion) })
}

func (s *Store) ListClaimsByFingerprint(fingerprint string) ([]ledger.ClaimRecord, error) {
	rows, err := s.db.Query(`SELECT claim_id, stage, version, fingerprint, body_json, created_at, updated_at
FROM claims WHERE fingerprint = ?
ORDER BY created_at DESC`, fingerprint)
	if err != nil {
		return nil, err
	}
	return collectClaims(rows)
}

func (s *Store) AppendAudit(rec ledger.AuditRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.AppendAudit(rec) })
}

func (s *Store) ListAuditFor(claimID string) ([]ledger.AuditRecord, error) {
	rows, err := s.db.Query(`SELECT seq, audit_id, claim_id, stage, result, detail, prev_digest, digest, attempted_at
FROM audit_log WHERE claim_id = ?
ORDER BY seq ASC`, claimID)
	if err != nil {
		return nil, err
	}
	return collectAudits(rows)
}

func (s *Store) LatestAudit(claimID string) (ledger.AuditRecord, bool) {
	return scanAudit(s.db.QueryRow(`SELECT seq, audit_id, claim_id, stage, result, detail, prev_digest, digest, attempted_at
FROM audit_log WHERE claim_id = ?
ORDER BY seq DESC LIMIT 1`, claimID))
}

func (s *Store) PutOutbox(rec ledger.OutboxRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutOutbox(rec) })
}

func (s *Store) GetOutbox(notificationID string) (ledger.OutboxRecord, bool) {
	return scanOutbox(s.db.QueryRow(`SELECT notification_id, claim_id, recipient, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at
FROM notify_outbox WHERE notification_id = ?`, notificationID))
}

func (s *Store) ListOutboxDue(now string, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT notification_id, claim_id, recipient, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at
FROM notify_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectOutbox(rows)
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) CreateClaim(rec ledger.ClaimRecord) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	_, err := t.tx.Exec(`INSERT INTO claims (claim_id, stage, version, fingerprint, body_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ClaimID, rec.Stage, rec.Version, rec.Fingerprint, string(rec.BodyJSON), rec.CreatedAt, rec.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ledger.ErrClaimExists
	}
	return err
}

func (t *Tx) GetClaim(claimID string) (ledger.ClaimRecord, bool) {
	return scanClaim(t.tx.QueryRow(`SELECT claim_id, stage, version, fingerprint, body_json, created_at, updated_at
FROM claims WHERE claim_id = ?`, claimID))
}

func (t *Tx) UpdateClaim(rec ledger.ClaimRecord, expectedVersion int64) error {
	res, err := t.tx.Exec(`UPDATE claims
SET stage = ?, version = version + 1, fingerprint = ?, body_json = ?, updated_at = ?
WHERE claim_id = ? AND version = ?`,
		rec.Stage, rec.Fingerprint, string(rec.BodyJSON), rec.UpdatedAt, rec.ClaimID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, ok := t.GetClaim(rec.ClaimID); !ok {
			return ledger.ErrClaimNotFound
		}
		return ledger.ErrVersionConflict
	}
	return nil
}

func (t *Tx) ListClaimsByFingerprint(fingerprint string) ([]ledger.ClaimRecord, error) {
	rows, err := t.tx.Query(`SELECT claim_id, stage, version, fingerprint, body_json, created_at, updated_at
FROM claims WHERE fingerprint = ?
ORDER BY created_at DESC`, fingerprint)
	if err != nil {
		return nil, err
	}
	return collectClaims(rows)
}

func (t *Tx) AppendAudit(rec ledger.AuditRecord) error {
	_, err := t.tx.Exec(`INSERT INTO audit_log (audit_id, claim_id, stage, result, detail, prev_digest, digest, attempted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AuditID, rec.ClaimID, rec.Stage, rec.Result, rec.Detail, rec.PrevDigest, rec.Digest, rec.AttemptedAt)
	return err
}

func (t *Tx) ListAuditFor(claimID string) ([]ledger.AuditRecord, error) {
	rows, err := t.tx.Query(`SELECT seq, audit_id, claim_id, stage, result, detail, prev_digest, digest, attempted_at
FROM audit_log WHERE claim_id = ?
ORDER BY seq ASC`, claimID)
	if err != nil {
		return nil, err
	}
	return collectAudits(rows)
}

func (t *Tx) LatestAudit(claimID string) (ledger.AuditRecord, bool) {
	return scanAudit(t.tx.QueryRow(`SELECT seq, audit_id, claim_id, stage, result, detail, prev_digest, digest, attempted_at
FROM audit_log WHERE claim_id = ?
ORDER BY seq DESC LIMIT 1`, claimID))
}

func (t *Tx) PutOutbox(rec ledger.OutboxRecord) error {
	_, err := t.tx.Exec(`INSERT INTO notify_outbox (notification_id, claim_id, recipient, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(notification_id) DO UPDATE SET
  status = excluded.status,
  attempt_count = excluded.attempt_count,
  next_attempt_at = excluded.next_attempt_at,
  last_error = excluded.last_error,
  sent_at = excluded.sent_at,
  updated_at = excluded.updated_at`,
		rec.NotificationID, rec.ClaimID, rec.Recipient, string(rec.MessageJSON), rec.Status, rec.AttemptCount, rec.NextAttemptAt, rec.LastError, rec.SentAt, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (t *Tx) GetOutbox(notificationID string) (ledger.OutboxRecord, bool) {
	return scanOutbox(t.tx.QueryRow(`SELECT notification_id, claim_id, recipient, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at
FROM notify_outbox WHERE notification_id = ?`, notificationID))
}

func (t *Tx) ListOutboxDue(now string, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(`SELECT notification_id, claim_id, recipient, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at
FROM notify_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectOutbox(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (ledger.ClaimRecord, bool) {
	var rec ledger.ClaimRecord
	var body string
	if err := row.Scan(&rec.ClaimID, &rec.Stage, &rec.Version, &rec.Fingerprint, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.ClaimRecord{}, false
	}
	rec.BodyJSON = []byte(body)
	return rec, true
}

func collectClaims(rows *sql.Rows) ([]ledger.ClaimRecord, error) {
	defer rows.Close()
	out := []ledger.ClaimRecord{}
	for rows.Next() {
		var rec ledger.ClaimRecord
		var body string
		if err := rows.Scan(&rec.ClaimID, &rec.Stage, &rec.Version, &rec.Fingerprint, &body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.BodyJSON = []byte(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanAudit(row rowScanner) (ledger.AuditRecord, bool) {
	var rec ledger.AuditRecord
	if err := row.Scan(&rec.Seq, &rec.AuditID, &rec.ClaimID, &rec.Stage, &rec.Result, &rec.Detail, &rec.PrevDigest, &rec.Digest, &rec.AttemptedAt); err != nil {
		return ledger.AuditRecord{}, false
	}
	return rec, true
}

func collectAudits(rows *sql.Rows) ([]ledger.AuditRecord, error) {
	defer rows.Close()
	out := []ledger.AuditRecord{}
	for rows.Next() {
		var rec ledger.AuditRecord
		if err := rows.Scan(&rec.Seq, &rec.AuditID, &rec.ClaimID, &rec.Stage, &rec.Result, &rec.Detail, &rec.PrevDigest, &rec.Digest, &rec.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOutbox(row rowScanner) (ledger.OutboxRecord, bool) {
	var rec ledger.OutboxRecord
	var msg string
	if err := row.Scan(&rec.NotificationID, &rec.ClaimID, &rec.Recipient, &msg, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.OutboxRecord{}, false
	}
	rec.MessageJSON = []byte(msg)
	return rec, true
}

func collectOutbox(rows *sql.Rows) ([]ledger.OutboxRecord, error) {
	defer rows.Close()
	out := []ledger.OutboxRecord{}
	for rows.Next() {
		var rec ledger.OutboxRecord
		var msg string
		if err := rows.Scan(&rec.NotificationID, &rec.ClaimID, &rec.Recipient, &msg, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.MessageJSON = []byte(msg)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
