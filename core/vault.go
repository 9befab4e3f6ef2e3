package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cashbeik/loyalty/models"
)

// Derivation parameters. The iteration count is stored per record so it
// can be raised later without breaking existing credentials.
const (
	AlgoPBKDF2SHA256 = "PBKDF2-SHA256"
	saltLength       = 24
	keyLength        = 32
	minIterations    = 1000
)

// CredentialVault derives and verifies PBKDF2 credentials. The pepper is
// held here and never written to a record; each record only carries a
// flag saying whether it was mixed in.
type CredentialVault struct {
	iterations int
	pepper     []byte
	now        func() time.Time
}

// NewCredentialVault creates a vault with the configured iteration count
// and optional pepper.
func NewCredentialVault(iterations int, pepper []byte) *CredentialVault {
	if iterations < minIterations {
		iterations = minIterations
	}
	return &CredentialVault{
		iterations: iterations,
		pepper:     pepper,
		now:        time.Now,
	}
}

// VerifyResult reports the outcome of a credential check.
type VerifyResult struct {
	Matched  bool
	Migrated bool
}

// NewRecord derives a fresh salted credential record for a secret.
func (v *CredentialVault) NewRecord(secret string) (models.Credential, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return models.Credential{}, fmt.Errorf("failed to generate salt: %v", err)
	}

	peppered := len(v.pepper) > 0
	hash := v.derive(secret, salt, v.iterations, peppered)

	return models.Credential{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Hash:       base64.StdEncoding.EncodeToString(hash),
		Iterations: v.iterations,
		Algorithm:  AlgoPBKDF2SHA256,
		Peppered:   peppered,
		UpdatedAt:  v.now(),
	}, nil
}

// Verify checks a secret against a credential record. A record still on
// the legacy unsalted scheme is upgraded in place on a successful match;
// the caller is responsible for persisting the mutated record when
// Migrated is true. A mismatch never returns an error: the caller counts
// it as an authentication failure.
func (v *CredentialVault) Verify(secret string, rec *models.Credential) VerifyResult {
	if rec.HasModernRecord() {
		salt, err := base64.StdEncoding.DecodeString(rec.Salt)
		if err != nil {
			return VerifyResult{}
		}
		stored, err := base64.StdEncoding.DecodeString(rec.Hash)
		if err != nil {
			return VerifyResult{}
		}
		calc := v.derive(secret, salt, rec.Iterations, rec.Peppered)
		return VerifyResult{Matched: subtle.ConstantTimeCompare(calc, stored) == 1}
	}

	// Legacy fallback: unsalted single-pass SHA-256, hex encoded.
	if rec.LegacyHash != "" {
		sum := sha256.Sum256([]byte(secret))
		calc := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(calc), []byte(rec.LegacyHash)) == 1 {
			modern, err := v.NewRecord(secret)
			if err != nil {
				// Verified but could not upgrade; report the match and
				// leave the record untouched.
				return VerifyResult{Matched: true}
			}
			modern.LegacyHash = ""
			*rec = modern
			return VerifyResult{Matched: true, Migrated: true}
		}
	}

	return VerifyResult{}
}

func (v *CredentialVault) derive(secret string, salt []byte, iterations int, peppered bool) []byte {
	if iterations < minIterations {
		iterations = minIterations
	}
	material := []byte(secret)
	if peppered && len(v.pepper) > 0 {
		material = append(material, v.pepper...)
	}
	return pbkdf2.Key(material, salt, iterations, keyLength, sha256.New)
}
