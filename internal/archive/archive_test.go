package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/ledger"
)

func testClaim() *claim.Claim {
	c := claim.New("CLM-001", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	c.Stage = claim.StageClosed
	c.Claimant = claim.ClaimantInfo{Name: "Jane Doe", Contact: "jane@example.com"}
	return c
}

func TestBuildZipIncludesMembers(t *testing.T) {
	zipBytes, err := BuildZip(Input{
		Claim: testClaim(),
		Audit: []ledger.AuditRecord{{AuditID: "a1", ClaimID: "CLM-001", Result: ledger.AuditSuccess}},
	}, "2026-03-01T00:00:00Z")
	if err != nil {
		t.Fatalf("build zip: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		t.Fatalf("zip reader: %v", err)
	}

	expected := map[string]bool{
		"claim.json":     false,
		"audit.json":     false,
		"manifest.json":  false,
		"sha256sums.txt": false,
	}
	for _, file := range reader.File {
		if _, ok := expected[file.Name]; ok {
			expected[file.Name] = true
		}
	}
	for name, seen := range expected {
		if !seen {
			t.Fatalf("missing %s", name)
		}
	}
}

func TestBuildFilesRequiresClaim(t *testing.T) {
	if _, err := BuildFiles(Input{}, ""); err == nil {
		t.Fatalf("expected error for missing claim")
	}
}

func TestManifestCoversMembers(t *testing.T) {
	files, err := BuildFiles(Input{Claim: testClaim()}, "2026-03-01T00:00:00Z")
	if err != nil {
		t.Fatalf("build files: %v", err)
	}

	var man struct {
		ClaimID string `json:"claimId"`
		Files   []struct {
			Name string `json:"name"`
			Size int    `json:"size"`
		} `json:"files"`
	}
	if err := json.Unmarshal(files["manifest.json"], &man); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if man.ClaimID != "CLM-001" || len(man.Files) != 2 {
		t.Fatalf("unexpected manifest: %+v", man)
	}
	for _, f := range man.Files {
		if len(files[f.Name]) != f.Size {
			t.Fatalf("size mismatch for %s", f.Name)
		}
	}
}

func TestBundleFromStore(t *testing.T) {
	store := ledger.NewInMemoryStore()
	c := testClaim()
	body, _ := c.Encode()
	_ = store.CreateClaim(ledger.ClaimRecord{ClaimID: c.ClaimID, Stage: string(c.Stage), BodyJSON: body, CreatedAt: "t0", UpdatedAt: "t0"})
	_ = store.AppendAudit(ledger.AuditRecord{AuditID: "a1", ClaimID: c.ClaimID, Result: ledger.AuditSuccess})

	zipBytes, err := Bundle(store, c.ClaimID, "2026-03-01T00:00:00Z")
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if len(zipBytes) == 0 {
		t.Fatalf("empty bundle")
	}

	if _, err := Bundle(store, "CLM-none", ""); err != ledger.ErrClaimNotFound {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}
}

func TestBundlerWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	store := ledger.NewInMemoryStore()
	c := testClaim()
	body, _ := c.Encode()
	_ = store.CreateClaim(ledger.ClaimRecord{ClaimID: c.ClaimID, Stage: string(c.Stage), BodyJSON: body, CreatedAt: "t0", UpdatedAt: "t0"})

	bundler := Bundler{Store: store, Dir: dir}
	document, err := bundler.Archive(context.Background(), c)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if document != "CLM-001-claimfile.zip" {
		t.Fatalf("document %q", document)
	}
	if _, err := os.Stat(filepath.Join(dir, document)); err != nil {
		t.Fatalf("bundle not written: %v", err)
	}
}
