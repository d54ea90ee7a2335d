package keystore_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/afipws/internal/afiptest"
	"github.com/vocdoni/gofirma/afipws/internal/crypto/keystore"
	"github.com/vocdoni/gofirma/afipws/internal/model"
)

func TestLoadPEM(t *testing.T) {
	id := afiptest.NewIdentity(t)

	identity, err := keystore.Load(context.Background(), keystore.Source{CertPath: id.CertPath, KeyPath: id.KeyPath})
	require.NoError(t, err)
	assert.Equal(t, id.Cert.Raw, identity.Cert.Raw)
	assert.Equal(t, keystore.Fingerprint(id.Cert), identity.Fingerprint256)
	assert.True(t, id.Key.PublicKey.Equal(identity.Signer.Public()))
}

func TestLoadPEMKeyMismatch(t *testing.T) {
	a := afiptest.NewIdentity(t)
	b := afiptest.NewIdentity(t)

	_, _, err := keystore.LoadPEM(a.CertPath, b.KeyPath)
	assert.ErrorIs(t, err, keystore.ErrKeyMismatch)
}

func TestLoadNoKeyMaterial(t *testing.T) {
	_, err := keystore.Load(context.Background(), keystore.Source{})
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.ErrorIs(t, err, keystore.ErrNoKeyMaterial)
}

func TestParsePKCS12(t *testing.T) {
	id := afiptest.NewIdentity(t)
	path := id.WritePKCS12(t, "password")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("password protected", func(t *testing.T) {
		signer, cert, _, err := keystore.ParsePKCS12(bytes.NewReader(data), "password")
		require.NoError(t, err)
		assert.Equal(t, id.Cert.Raw, cert.Raw)
		assert.NotNil(t, signer)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, _, err := keystore.ParsePKCS12(bytes.NewReader(data), "wrong-password")
		assert.ErrorIs(t, err, keystore.ErrWrongPassword)
	})

	t.Run("password required", func(t *testing.T) {
		_, _, _, err := keystore.ParsePKCS12(bytes.NewReader(data), "")
		assert.ErrorIs(t, err, keystore.ErrPasswordRequired)
	})

	t.Run("invalid file", func(t *testing.T) {
		_, _, _, err := keystore.ParsePKCS12(bytes.NewReader([]byte("not-a-pkcs12")), "")
		assert.ErrorIs(t, err, keystore.ErrInvalidFile)
	})

	t.Run("load from source", func(t *testing.T) {
		identity, err := keystore.Load(context.Background(), keystore.Source{PKCS12Path: path, PKCS12Password: "password"})
		require.NoError(t, err)
		assert.Equal(t, id.Cert.Raw, identity.Cert.Raw)
	})
}

func TestVaultRoundTrip(t *testing.T) {
	secret := []byte(`{"token":"t","sign":"s"}`)

	sealed, err := keystore.Seal(secret, []byte("vault-pw"))
	require.NoError(t, err)
	assert.True(t, keystore.IsSealed(sealed))
	assert.NotContains(t, string(sealed), "token")

	opened, err := keystore.Open(sealed, []byte("vault-pw"))
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	_, err = keystore.Open(sealed, []byte("other"))
	assert.Error(t, err)

	_, err = keystore.Open(secret, []byte("vault-pw"))
	assert.ErrorIs(t, err, keystore.ErrNotSealed)
}
