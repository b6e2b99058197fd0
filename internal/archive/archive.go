// Package archive bundles a claim file at closure: the claim body, its full
// audit trail, a manifest, and per-file checksums, zipped for handoff to
// long-term storage.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/ledger"
)

// Input carries everything that goes into one claim bundle.
type Input struct {
	Claim *claim.Claim
	Audit []ledger.AuditRecord
}

type manifest struct {
	ClaimID     string         `json:"claimId"`
	Stage       string         `json:"stage"`
	GeneratedAt string         `json:"generatedAt"`
	Files       []manifestFile `json:"files"`
}

type manifestFile struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// BuildFiles renders the bundle's members. The manifest and checksum file
// cover every other member.
func BuildFiles(in Input, generatedAt string) (map[string][]byte, error) {
	if in.Claim == nil {
		return nil, fmt.Errorf("missing claim")
	}

	claimJSON, err := json.MarshalIndent(in.Claim, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal claim: %w", err)
	}
	auditJSON, err := json.MarshalIndent(in.Audit, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal audit: %w", err)
	}

	files := map[string][]byte{
		"claim.json": claimJSON,
		"audit.json": auditJSON,
	}

	man := manifest{
		ClaimID:     in.Claim.ClaimID,
		Stage:       string(in.Claim.Stage),
		GeneratedAt: generatedAt,
	}
	for _, name := range sortedNames(files) {
		man.Files = append(man.Files, manifestFile{Name: name, Size: len(files[name])})
	}
	manJSON, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	files["manifest.json"] = manJSON

	sums := bytes.Buffer{}
	for _, name := range sortedNames(files) {
		sum := sha256.Sum256(files[name])
		fmt.Fprintf(&sums, "%s  %s\n", hex.EncodeToString(sum[:]), name)
	}
	files["sha256sums.txt"] = sums.Bytes()

	return files, nil
}

// WriteZip writes the files into w as a zip archive, members in sorted order.
func WriteZip(w io.Writer, files map[string][]byte) error {
	zw := zip.NewWriter(w)
	for _, name := range sortedNames(files) {
		fw, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("zip create %s: %w", name, err)
		}
		if _, err := fw.Write(files[name]); err != nil {
			return fmt.Errorf("zip write %s: %w", name, err)
		}
	}
	return zw.Close()
}

// BuildZip builds the full bundle in memory.
func BuildZip(in Input, generatedAt string) ([]byte, error) {
	files, err := BuildFiles(in, generatedAt)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(nil)
	if err := WriteZip(buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bundle loads a claim and its audit trail from the store and builds its
// archive zip.
func Bundle(store ledger.Store, claimID, generatedAt string) ([]byte, error) {
	rec, ok := store.GetClaim(claimID)
	if !ok {
		return nil, ledger.ErrClaimNotFound
	}
	c, err := claim.Decode(rec.BodyJSON)
	if err != nil {
		return nil, err
	}
	audit, err := store.ListAuditFor(claimID)
	if err != nil {
		return nil, err
	}
	return BuildZip(Input{Claim: c, Audit: audit}, generatedAt)
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bundler archives a claim at closure. When Dir is set the bundle is written
// to disk; either way the document name is recorded on the claim.
type Bundler struct {
	Store ledger.Store
	Dir   string
	Now   func() time.Time
}

func (b Bundler) Archive(ctx context.Context, c *claim.Claim) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	generatedAt := now().UTC().Format(time.RFC3339)

	var audit []ledger.AuditRecord
	if b.Store != nil {
		trail, err := b.Store.ListAuditFor(c.ClaimID)
		if err != nil {
			return "", err
		}
		audit = trail
	}

	document := c.ClaimID + "-claimfile.zip"
	zipBytes, err := BuildZip(Input{Claim: c, Audit: audit}, generatedAt)
	if err != nil {
		return "", err
	}
	if b.Dir != "" {
		if err := os.MkdirAll(b.Dir, 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(b.Dir, document), zipBytes, 0o644); err != nil {
			return "", err
		}
	}
	return document, nil
}
