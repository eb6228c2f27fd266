package vault_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/vault"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, vault.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return hex.EncodeToString(key)
}

func newVault(t *testing.T) (*vault.Vault, string) {
	t.Helper()
	root := t.TempDir()
	v, err := vault.New(testKey(t), vault.NewFSStore(root))
	require.NoError(t, err)
	return v, root
}

func TestNew_KeyConfig(t *testing.T) {
	_, err := vault.New("", vault.NewFSStore(t.TempDir()))
	require.ErrorIs(t, err, core.ErrConfig)

	_, err = vault.New("not-hex", vault.NewFSStore(t.TempDir()))
	require.ErrorIs(t, err, core.ErrConfig)

	_, err = vault.New("abcd", vault.NewFSStore(t.TempDir())) // too short
	require.ErrorIs(t, err, core.ErrConfig)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, _ := newVault(t)

	for _, plaintext := range [][]byte{
		[]byte("auth state blob"),
		{},
		make([]byte, 4096),
	} {
		env, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		require.Len(t, env, vault.NonceSize+vault.TagSize+len(plaintext))

		got, err := v.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	v, _ := newVault(t)
	a, err := v.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a[:vault.NonceSize], b[:vault.NonceSize])
	assert.NotEqual(t, a, b)
}

func TestDecrypt_AnyBitFlipFailsClosed(t *testing.T) {
	v, _ := newVault(t)
	env, err := v.Encrypt([]byte("secret auth state"))
	require.NoError(t, err)

	for i := range env {
		tampered := make([]byte, len(env))
		copy(tampered, env)
		tampered[i] ^= 0x01

		_, err := v.Decrypt(tampered)
		require.ErrorIs(t, err, core.ErrIntegrity, "flipped byte %d", i)
	}
}

func TestDecrypt_TruncatedEnvelope(t *testing.T) {
	v, _ := newVault(t)
	_, err := v.Decrypt([]byte("short"))
	require.ErrorIs(t, err, core.ErrIntegrity)
}

func TestSaveLoadState(t *testing.T) {
	v, root := newVault(t)
	ctx := context.Background()

	state := []byte(`{"creds":"abc123","keys":["k1","k2"]}`)
	p, err := v.SaveState(ctx, "sess-1", state)
	require.NoError(t, err)
	require.Equal(t, "sessions/sess-1/auth_state.enc", p)

	// Nothing on disk may contain the plaintext.
	raw, err := os.ReadFile(filepath.Join(root, "sessions", "sess-1", "auth_state.enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "abc123")

	got, err := v.LoadState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestSaveState_OverwritesSamePath(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()

	_, err := v.SaveState(ctx, "sess-1", []byte("v1"))
	require.NoError(t, err)
	_, err = v.SaveState(ctx, "sess-1", []byte("v2"))
	require.NoError(t, err)

	got, err := v.LoadState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestLoadState_TamperedBlobAbortsResume(t *testing.T) {
	v, root := newVault(t)
	ctx := context.Background()

	_, err := v.SaveState(ctx, "sess-1", []byte("auth"))
	require.NoError(t, err)

	full := filepath.Join(root, "sessions", "sess-1", "auth_state.enc")
	raw, err := os.ReadFile(full)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(full, raw, 0o600))

	_, err = v.LoadState(ctx, "sess-1")
	require.ErrorIs(t, err, core.ErrIntegrity)
}

func TestDeleteState(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()

	_, err := v.SaveState(ctx, "sess-1", []byte("auth"))
	require.NoError(t, err)
	require.NoError(t, v.DeleteState(ctx, "sess-1"))

	_, err = v.LoadState(ctx, "sess-1")
	require.ErrorIs(t, err, core.ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, v.DeleteState(ctx, "sess-1"))
}

func TestDecrypt_WrongKey(t *testing.T) {
	v1, _ := newVault(t)
	v2, _ := newVault(t)

	env, err := v1.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = v2.Decrypt(env)
	require.ErrorIs(t, err, core.ErrIntegrity)
}
