package pki

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"testing"
	"time"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

func TestEncodePKCS12(t *testing.T) {
	c := newTestChain(t)

	t.Run("bundles key, leaf and CAs", func(t *testing.T) {
		pfx, err := EncodePKCS12(c.eeKey, c.ee, []*Certificate{c.ca, c.root}, "password")
		require.NoError(t, err)

		key, leaf, cas, err := pkcs12.DecodeChain(pfx, "password")
		require.NoError(t, err)
		assert.True(t, publicKeysEqual(c.eeKey.VerificationKey(), key.(crypto.Signer).Public()))
		assert.Equal(t, c.ee.Raw(), leaf.Raw)
		require.Len(t, cas, 2)
		assert.Equal(t, c.ca.Raw(), cas[0].Raw)
		assert.Equal(t, c.root.Raw(), cas[1].Raw)
	})

	t.Run("wrong password does not decode", func(t *testing.T) {
		pfx, err := EncodePKCS12(c.eeKey, c.ee, nil, "password")
		require.NoError(t, err)

		_, _, _, err = pkcs12.DecodeChain(pfx, "other")
		require.Error(t, err)
	})

	t.Run("key must match the leaf", func(t *testing.T) {
		_, err := EncodePKCS12(c.caKey, c.ee, nil, "password")
		require.ErrorIs(t, err, ErrSigningKeyMismatch)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := EncodePKCS12(nil, c.ee, nil, "password")
		require.ErrorIs(t, err, ErrMissingRequiredField)
	})
}

func TestEncodeJKS(t *testing.T) {
	c := newTestChain(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("private key entry and trusted CAs", func(t *testing.T) {
		data, err := EncodeJKS(c.eeKey, c.ee, []*Certificate{c.ca, c.root}, "changeit", created)
		require.NoError(t, err)

		ks := keystore.New()
		require.NoError(t, ks.Load(bytes.NewReader(data), []byte("changeit")))

		require.True(t, ks.IsPrivateKeyEntry(KeyStoreKeyAlias))
		require.True(t, ks.IsTrustedCertificateEntry("ca"))
		require.True(t, ks.IsTrustedCertificateEntry("ca-1"))
		require.Len(t, ks.Aliases(), 3)

		entry, err := ks.GetPrivateKeyEntry(KeyStoreKeyAlias, []byte("changeit"))
		require.NoError(t, err)
		require.Len(t, entry.CertificateChain, 3)
		assert.Equal(t, c.ee.Raw(), entry.CertificateChain[0].Content)
		assert.Equal(t, c.root.Raw(), entry.CertificateChain[2].Content)

		key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
		require.NoError(t, err)
		assert.True(t, publicKeysEqual(c.eeKey.VerificationKey(), key.(crypto.Signer).Public()))

		ca, err := ks.GetTrustedCertificateEntry("ca")
		require.NoError(t, err)
		assert.Equal(t, c.ca.Raw(), ca.Certificate.Content)
	})

	t.Run("short password", func(t *testing.T) {
		_, err := EncodeJKS(c.eeKey, c.ee, nil, "12345", created)
		require.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("key must match the leaf", func(t *testing.T) {
		_, err := EncodeJKS(c.caKey, c.ee, nil, "changeit", created)
		require.ErrorIs(t, err, ErrSigningKeyMismatch)
	})
}
