package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/mod/sumdb/note"
)

// ErrNoReleaseNote is returned by VerifyRelease for packages without a
// release.note entry.
var ErrNoReleaseNote = errors.New("package has no " + ReleaseNoteName)

// Release is the signed content of a release note.
type Release struct {
	// Description is free text
	Description string `json:"description,omitempty"`

	// ArtifactSHA256 maps archive entry names to their SHA-256 digests
	ArtifactSHA256 map[string][]byte `json:"artifact_sha256"`
}

// VerifyRelease checks the package release note against the verifiers and
// makes sure every artifact it commits to is present with a matching digest.
func VerifyRelease(pkg *Package, verifiers note.Verifiers) (*Release, error) {
	raw, ok := pkg.File(ReleaseNoteName)
	if !ok {
		return nil, ErrNoReleaseNote
	}

	n, err := note.Open(raw, verifiers)
	if err != nil {
		return nil, fmt.Errorf("invalid signature on release note: %w", err)
	}

	var rel Release
	if err := json.Unmarshal([]byte(n.Text), &rel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal release note: %w", err)
	}
	if len(rel.ArtifactSHA256) == 0 {
		return nil, fmt.Errorf("release note commits to no artifacts")
	}

	for name, expected := range rel.ArtifactSHA256 {
		data, ok := pkg.File(name)
		if !ok {
			return nil, fmt.Errorf("release note commits to %q, which is not in the package", name)
		}
		got := sha256.Sum256(data)
		if !bytes.Equal(expected, got[:]) {
			return nil, fmt.Errorf("artifact hash for %q is %x, but release note claims %x", name, got, expected)
		}
	}

	return &rel, nil
}

// NewVerifier parses a note verifier key ("name+hash+key").
func NewVerifier(key string) (note.Verifiers, error) {
	v, err := note.NewVerifier(key)
	if err != nil {
		return nil, fmt.Errorf("parse verifier key: %w", err)
	}
	return note.VerifierList(v), nil
}
