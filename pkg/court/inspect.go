package court

import (
	"archive/zip"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/cybershield/custody/pkg/contracts"
	"github.com/cybershield/custody/pkg/crypto"
)

// InspectionResult is the outcome of offline package verification. It
// needs nothing but the archive itself and the crypto primitives.
type InspectionResult struct {
	PackagePath   string   `json:"package_path"`
	FormatVersion string   `json:"format_version"`
	EvidenceID    string   `json:"evidence_id"`
	Verified      bool     `json:"verified"`
	Issues        []string `json:"issues,omitempty"`
}

// InspectPackage verifies a built archive offline: the format version must
// be within the supported major version, every manifest entry must be
// present, every entry's content hash must match, and when the manifest
// carries the signing public key the record signature must verify.
func InspectPackage(path string) (*InspectionResult, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer func() { _ = zr.Close() }()

	result := &InspectionResult{PackagePath: path, Verified: true}

	manifest, err := readManifest(&zr.Reader)
	if err != nil {
		return nil, err
	}
	result.FormatVersion = manifest.FormatVersion
	result.EvidenceID = manifest.EvidenceID

	if err := checkFormatVersion(manifest.FormatVersion); err != nil {
		result.Verified = false
		result.Issues = append(result.Issues, err.Error())
	}

	if err := checkRecordSignature(manifest); err != nil {
		result.Verified = false
		result.Issues = append(result.Issues, err.Error())
	}

	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	for _, entry := range manifest.Contents {
		f, ok := byName[entry.Name]
		if !ok {
			result.Verified = false
			result.Issues = append(result.Issues, fmt.Sprintf("missing archive entry %s", entry.Name))
			continue
		}
		hash, size, err := hashZipEntry(f)
		if err != nil {
			result.Verified = false
			result.Issues = append(result.Issues, fmt.Sprintf("unreadable entry %s: %v", entry.Name, err))
			continue
		}
		if hash != entry.Hash {
			result.Verified = false
			result.Issues = append(result.Issues, fmt.Sprintf("hash mismatch for %s", entry.Name))
		}
		if size != entry.Size {
			result.Verified = false
			result.Issues = append(result.Issues, fmt.Sprintf("size mismatch for %s", entry.Name))
		}
	}
	return result, nil
}

func readManifest(zr *zip.Reader) (*PackageManifest, error) {
	for _, f := range zr.File {
		if f.Name != "package_manifest.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open package manifest: %w", err)
		}
		defer func() { _ = rc.Close() }()
		var m PackageManifest
		if err := json.NewDecoder(rc).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode package manifest: %w", err)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("package has no manifest")
}

func checkFormatVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid format version %q", version)
	}
	supported := semver.MustParse(PackageFormatVersion)
	if v.Major() != supported.Major() {
		return fmt.Errorf("unsupported format version %s (supported: %d.x)", version, supported.Major())
	}
	return nil
}

// checkRecordSignature re-verifies the evidence record signature from
// manifest data alone. Skipped when the builder embedded no public key.
func checkRecordSignature(m *PackageManifest) error {
	if m.SignerPublicKey == "" {
		return nil
	}
	canonical := contracts.CanonicalizeRecord(m.EvidenceID, m.CaseNumber, m.CollectedAt, m.Fingerprint)
	ok, err := crypto.VerifyWithKey(m.SignerPublicKey, m.RecordSignature, []byte(canonical))
	if err != nil {
		return fmt.Errorf("record signature unverifiable: %v", err)
	}
	if !ok {
		return fmt.Errorf("record signature invalid")
	}
	return nil
}

func hashZipEntry(f *zip.File) (string, int64, error) {
	rc, err := f.Open()
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = rc.Close() }()
	return crypto.HashReader(rc)
}
