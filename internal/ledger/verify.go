package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrAuditDigestMismatch = errors.New("audit digest mismatch")
	ErrAuditChainBroken    = errors.New("audit chain broken")
)

const digestPrefix = "sha256:"

// ChainDigest computes the digest of an audit entry given its predecessor's
// digest. The empty string anchors the first entry of a claim's chain.
func ChainDigest(prevDigest string, rec AuditRecord) string {
	body := strings.Join([]string{
		prevDigest,
		norm.NFC.String(rec.ClaimID),
		norm.NFC.String(rec.Stage),
		rec.Result,
		norm.NFC.String(rec.Detail),
		rec.AttemptedAt,
	}, "\n")
	sum := sha256.Sum256([]byte(body))
	return digestPrefix + hex.EncodeToString(sum[:])
}

// VerifyAuditChain re-walks a claim's audit trail and checks every link.
// Entries must be in chronological order, as returned by ListAuditFor.
func VerifyAuditChain(entries []AuditRecord) error {
	prev := ""
	for i, rec := range entries {
		if rec.PrevDigest != prev {
			return fmt.Errorf("%w: entry %d expected prev %q got %q", ErrAuditChainBroken, i, prev, rec.PrevDigest)
		}
		if got := ChainDigest(prev, rec); got != rec.Digest {
			return fmt.Errorf("%w: entry %d", ErrAuditDigestMismatch, i)
		}
		prev = rec.Digest
	}
	return nil
}
