package dup

import (
	"testing"

	"github.com/davidahmann/claimflow/internal/claim"
)

func TestFingerprintFoldsCaseAndWhitespace(t *testing.T) {
	a := Fingerprint(
		claim.ClaimantInfo{Name: "Jane Doe", Contact: "JANE@Example.com"},
		claim.ClaimDetails{PolicyNumber: "POL-77", IncidentDescription: "Rear-end  collision on I-5"},
	)
	b := Fingerprint(
		claim.ClaimantInfo{Name: "  jane   doe ", Contact: "jane@example.com"},
		claim.ClaimDetails{PolicyNumber: "pol-77", IncidentDescription: "rear-end collision on i-5"},
	)
	if a != b {
		t.Fatalf("restyled submission must collide: %s vs %s", a, b)
	}
}

func TestFingerprintFoldsCompatibilityForms(t *testing.T) {
	// Full-width digits vs ASCII digits in the policy number.
	a := Fingerprint(claim.ClaimantInfo{Name: "n"}, claim.ClaimDetails{PolicyNumber: "ＰＯＬ１２３"})
	b := Fingerprint(claim.ClaimantInfo{Name: "n"}, claim.ClaimDetails{PolicyNumber: "pol123"})
	if a != b {
		t.Fatalf("NFKC folding missing")
	}
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	a := Fingerprint(claim.ClaimantInfo{Name: "Jane"}, claim.ClaimDetails{IncidentDescription: "fire"})
	b := Fingerprint(claim.ClaimantInfo{Name: "Jane"}, claim.ClaimDetails{IncidentDescription: "flood"})
	if a == b {
		t.Fatalf("different incidents must not collide")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Content shifted across field boundaries must not collide.
	a := Fingerprint(claim.ClaimantInfo{Name: "jane doe", Contact: ""}, claim.ClaimDetails{})
	b := Fingerprint(claim.ClaimantInfo{Name: "jane", Contact: "doe"}, claim.ClaimDetails{})
	if a == b {
		t.Fatalf("field boundary lost in fingerprint")
	}
}
