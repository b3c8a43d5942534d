package chain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/certchain/internal/pki"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())

	subject, err := p.TrustAnchor.subject()
	require.NoError(t, err)
	assert.Equal(t, "CN=Root,L=City,O=Test,C=AU", subject.String())

	assert.Equal(t, uint64(1), p.CA.Serial)
	assert.Equal(t, defaultValidity, p.EndEntity.validFor())
	assert.False(t, p.IncludeRoot)
}

func TestParseProfile(t *testing.T) {
	t.Run("fields override the defaults", func(t *testing.T) {
		p, err := ParseProfile([]byte(`
include_root: true
ca:
  key_algorithm: ecdsa
  key_size: 384
  path_len: 0
end_entity:
  subject: ["C=AU", "O=Test", "CN=Eric H. Echidna", "E=feedback@example.com"]
  serial: 0
  valid_for: 48h
  ext_key_usage: [clientAuth]
  subject_alt_names:
    - {kind: email, value: feedback@example.com}
    - {kind: ip, value: 10.9.7.6}
`))
		require.NoError(t, err)

		assert.True(t, p.IncludeRoot)
		assert.Equal(t, "ecdsa", p.CA.KeyAlgorithm)
		assert.Equal(t, 384, p.CA.KeySize)
		require.NotNil(t, p.CA.PathLen)
		assert.Equal(t, 0, *p.CA.PathLen)

		// untouched fields keep their defaults
		assert.Equal(t, []string{"keyCertSign", "cRLSign"}, p.CA.KeyUsage)
		assert.Equal(t, []string{"C=AU", "O=Test", "L=City", "CN=Root"}, p.TrustAnchor.Subject)

		assert.Zero(t, p.EndEntity.Serial)
		assert.Equal(t, 48*time.Hour, p.EndEntity.ValidFor)
		assert.Len(t, p.EndEntity.SubjectAltNames, 2)

		subject, err := p.EndEntity.subject()
		require.NoError(t, err)
		assert.Equal(t, 4, subject.Len())
	})

	t.Run("unknown critical extension is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("ca:\n  critical: [name_constraints]\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name_constraints")
	})

	t.Run("critical key identifiers are rejected before any key is generated", func(t *testing.T) {
		_, err := ParseProfile([]byte("ca:\n  critical: [basic_constraints, key_usage, subject_key_identifier]\n"))
		require.ErrorIs(t, err, pki.ErrInvalidCriticality)
		assert.Contains(t, err.Error(), "ca:")

		_, err = ParseProfile([]byte("end_entity:\n  critical: [authority_key_identifier]\n"))
		require.ErrorIs(t, err, pki.ErrInvalidCriticality)
	})

	t.Run("critical raw key identifier is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte(`
end_entity:
  subject_key_identifier: false
  extensions:
    - {oid: 2.5.29.14, value: "0403010203", critical: true}
`))
		require.ErrorIs(t, err, pki.ErrInvalidCriticality)
	})

	t.Run("unknown subject attribute is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("end_entity:\n  subject: [\"XX=nope\"]\n"))
		require.ErrorIs(t, err, pki.ErrUnknownAttributeType)
	})

	t.Run("subject attribute without value separator is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("end_entity:\n  subject: [\"CN\"]\n"))
		require.ErrorIs(t, err, pki.ErrUnknownAttributeType)
	})

	t.Run("empty subject is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("end_entity:\n  subject: []\n"))
		require.ErrorIs(t, err, pki.ErrMissingRequiredField)
	})

	t.Run("unsupported key algorithm is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("trust_anchor:\n  key_algorithm: dsa\n"))
		require.ErrorIs(t, err, pki.ErrUnsupportedAlgorithm)
	})

	t.Run("negative validity is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("ca:\n  valid_for: -1h\n"))
		require.ErrorIs(t, err, pki.ErrInvalidValidityWindow)
	})

	t.Run("malformed yaml is rejected", func(t *testing.T) {
		_, err := ParseProfile([]byte("ca: [:"))
		require.Error(t, err)
	})
}

func TestLoadProfile(t *testing.T) {
	t.Run("loads a profile file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ca:\n  key_algorithm: ed25519\n"), 0o600))

		p, err := LoadProfile(path)
		require.NoError(t, err)
		assert.Equal(t, "ed25519", p.CA.KeyAlgorithm)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestIdentityProfile_Extensions(t *testing.T) {
	kp, err := pki.NewKeyPairService(pki.NewStdProvider()).Generate(pki.KeyAlgorithmECDSA, pki.KeyParams{})
	require.NoError(t, err)

	t.Run("default end entity has basic constraints and a key identifier", func(t *testing.T) {
		exts, err := DefaultProfile().EndEntity.extensions(kp)
		require.NoError(t, err)
		assert.Equal(t, 2, exts.Len())

		bc, ok := exts.BasicConstraints()
		require.True(t, ok)
		assert.False(t, bc.IsCA)

		ext, ok := exts.Get(pki.OIDExtensionBasicConstraints)
		require.True(t, ok)
		assert.True(t, ext.Critical)
	})

	t.Run("subject key identifier can be switched off", func(t *testing.T) {
		ip := DefaultProfile().EndEntity
		ip.SubjectKeyID = boolPtr(false)

		exts, err := ip.extensions(kp)
		require.NoError(t, err)
		assert.False(t, exts.Has(pki.OIDExtensionSubjectKeyIdentifier))
	})

	t.Run("key usage names combine", func(t *testing.T) {
		exts, err := DefaultProfile().CA.extensions(kp)
		require.NoError(t, err)

		ku, ok := exts.KeyUsage()
		require.True(t, ok)
		assert.Equal(t, pki.KeyUsageCertSign|pki.KeyUsageCRLSign, ku)
	})

	t.Run("raw extensions are hex decoded", func(t *testing.T) {
		ip := DefaultProfile().EndEntity
		ip.Extensions = []RawExtension{{OID: "1.2.3.4", Value: "0500", Critical: true}}

		exts, err := ip.extensions(kp)
		require.NoError(t, err)

		marshalled, err := exts.Marshal()
		require.NoError(t, err)
		last := marshalled[len(marshalled)-1]
		assert.Equal(t, "1.2.3.4", last.Id.String())
		assert.Equal(t, []byte{0x05, 0x00}, last.Value)
		assert.True(t, last.Critical)
	})

	t.Run("raw extension with bad hex fails", func(t *testing.T) {
		ip := DefaultProfile().EndEntity
		ip.Extensions = []RawExtension{{OID: "1.2.3.4", Value: "zz"}}

		_, err := ip.extensions(kp)
		require.ErrorIs(t, err, pki.ErrEncoding)
	})

	t.Run("raw extension cannot duplicate a typed one", func(t *testing.T) {
		ip := DefaultProfile().EndEntity
		ip.Extensions = []RawExtension{{OID: "2.5.29.19", Value: "3000"}}

		_, err := ip.extensions(kp)
		require.ErrorIs(t, err, pki.ErrDuplicateExtension)
	})

	t.Run("unknown alternative name kind fails", func(t *testing.T) {
		ip := DefaultProfile().EndEntity
		ip.SubjectAltNames = []AltName{{Kind: "x400", Value: "nope"}}

		_, err := ip.extensions(kp)
		require.Error(t, err)
	})
}
