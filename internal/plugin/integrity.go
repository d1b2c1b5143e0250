// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// IntegrityAlgorithm is the only supported digest algorithm.
const IntegrityAlgorithm = "sha256"

// hexDigestLength is the length of a hex-encoded SHA-256 digest.
const hexDigestLength = sha256.Size * 2

// IntegrityReference computes the canonical integrity reference for a blob
// of entry code: "sha256-<64 hex>".
func IntegrityReference(code []byte) string {
	sum := sha256.Sum256(code)
	return IntegrityAlgorithm + "-" + hex.EncodeToString(sum[:])
}

// VerifyIntegrity checks fetched entry code against the manifest's declared
// integrity reference. It must run before any code is instantiated.
//
// The canonical reference format is "sha256-<64 hex>"; a bare 64-hex digest
// is accepted and treated as sha256. Any other algorithm prefix, a missing
// reference, or a digest mismatch is a hard failure.
func VerifyIntegrity(m *Manifest, code []byte) error {
	ref := strings.TrimSpace(m.Integrity)
	if ref == "" {
		return ErrIntegrity(m.ID, "manifest declares no integrity reference")
	}

	declared := ref
	if algo, digest, ok := strings.Cut(ref, "-"); ok && len(digest) == hexDigestLength {
		if algo != IntegrityAlgorithm {
			return ErrIntegrity(m.ID, fmt.Sprintf("unsupported digest algorithm %q", algo))
		}
		declared = digest
	}

	if len(declared) != hexDigestLength {
		return ErrIntegrity(m.ID,
			fmt.Sprintf("malformed integrity reference: want %q or a %d-char hex digest",
				IntegrityAlgorithm+"-<hex>", hexDigestLength))
	}
	declaredBytes, err := hex.DecodeString(declared)
	if err != nil {
		return ErrIntegrity(m.ID, "integrity reference is not valid hex")
	}

	sum := sha256.Sum256(code)
	if subtle.ConstantTimeCompare(sum[:], declaredBytes) != 1 {
		return ErrIntegrity(m.ID,
			fmt.Sprintf("digest mismatch: declared %s, computed %s",
				strings.ToLower(declared), hex.EncodeToString(sum[:])))
	}
	return nil
}
