package core

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbeik/loyalty/models"
)

func TestVaultRoundTrip(t *testing.T) {
	vault := NewCredentialVault(1000, nil)

	rec, err := vault.NewRecord("123456")
	require.NoError(t, err)
	assert.Equal(t, AlgoPBKDF2SHA256, rec.Algorithm)
	assert.Equal(t, 1000, rec.Iterations)
	assert.False(t, rec.Peppered)
	assert.True(t, rec.HasModernRecord())

	res := vault.Verify("123456", &rec)
	assert.True(t, res.Matched)
	assert.False(t, res.Migrated)

	res = vault.Verify("654321", &rec)
	assert.False(t, res.Matched)
}

func TestVaultSaltsDiffer(t *testing.T) {
	vault := NewCredentialVault(1000, nil)

	a, err := vault.NewRecord("123456")
	require.NoError(t, err)
	b, err := vault.NewRecord("123456")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestVaultPepper(t *testing.T) {
	peppered := NewCredentialVault(1000, []byte("pepper"))
	plain := NewCredentialVault(1000, nil)

	rec, err := peppered.NewRecord("123456")
	require.NoError(t, err)
	assert.True(t, rec.Peppered)

	assert.True(t, peppered.Verify("123456", &rec).Matched)
	// A vault without the pepper cannot verify a peppered record.
	assert.False(t, plain.Verify("123456", &rec).Matched)
}

func TestVaultIterationFloor(t *testing.T) {
	vault := NewCredentialVault(10, nil)
	rec, err := vault.NewRecord("123456")
	require.NoError(t, err)
	assert.Equal(t, 1000, rec.Iterations)
}

func TestVaultLegacyMigration(t *testing.T) {
	vault := NewCredentialVault(1000, nil)

	sum := sha256.Sum256([]byte("123456"))
	rec := models.Credential{LegacyHash: hex.EncodeToString(sum[:])}
	require.False(t, rec.HasModernRecord())

	res := vault.Verify("123456", &rec)
	assert.True(t, res.Matched)
	assert.True(t, res.Migrated)

	// The record is now salted; the legacy hash is gone and the new record
	// keeps verifying.
	assert.True(t, rec.HasModernRecord())
	assert.Empty(t, rec.LegacyHash)
	assert.True(t, vault.Verify("123456", &rec).Matched)
	assert.False(t, vault.Verify("654321", &rec).Matched)
}

func TestVaultLegacyMismatch(t *testing.T) {
	vault := NewCredentialVault(1000, nil)

	sum := sha256.Sum256([]byte("123456"))
	rec := models.Credential{LegacyHash: hex.EncodeToString(sum[:])}

	res := vault.Verify("000000", &rec)
	assert.False(t, res.Matched)
	assert.False(t, res.Migrated)
	// Untouched on mismatch.
	assert.False(t, rec.HasModernRecord())
	assert.NotEmpty(t, rec.LegacyHash)
}
