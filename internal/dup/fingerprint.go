// Package dup detects candidate duplicate claim submissions. Detection is
// advisory: the engine surfaces matches and the caller decides; claims are
// never merged or auto-rejected.
package dup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/davidahmann/claimflow/internal/claim"
)

var folder = cases.Fold()

// Fingerprint computes the normalized composite of claimant and incident
// fields used for duplicate comparison. Case, Unicode width/compatibility
// forms, and whitespace runs are all folded away so that trivially restyled
// resubmissions collide.
func Fingerprint(ci claim.ClaimantInfo, cd claim.ClaimDetails) string {
	parts := []string{
		normalize(ci.Name),
		normalize(ci.Contact),
		normalize(cd.PolicyNumber),
		normalize(cd.IncidentDescription),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	folded := folder.String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}
