package pki

import (
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestKeyPair(t *testing.T, alg KeyAlgorithm) *KeyPair {
	t.Helper()

	kp, err := NewKeyPairService(NewStdProvider(), WithLogger(zerolog.Nop())).Generate(alg, KeyParams{})
	require.NoError(t, err)
	return kp
}

func testName(t *testing.T, cn string) DistinguishedName {
	t.Helper()

	dn, err := NewNameBuilder().
		Add(AttributeCountry, "AU").
		Add(AttributeOrganization, "Test").
		Add(AttributeLocality, "City").
		Add(AttributeCommonName, cn).
		Build()
	require.NoError(t, err)
	return dn
}

func caExtensions(t *testing.T, kp *KeyPair) *ExtensionSet {
	t.Helper()

	ski, err := SubjectKeyID(kp.VerificationKey())
	require.NoError(t, err)

	exts := NewExtensionSet()
	require.NoError(t, exts.Add(BasicConstraints{IsCA: true}, true))
	require.NoError(t, exts.Add(KeyUsageCertSign|KeyUsageCRLSign, true))
	require.NoError(t, exts.Add(SubjectKeyIdentifier{KeyID: ski}, false))
	return exts
}

func testRequest(subject DistinguishedName, issuer IssuerSource, kp *KeyPair, exts *ExtensionSet) CertificateRequest {
	now := time.Now()
	return CertificateRequest{
		SerialNumber: big.NewInt(1),
		Subject:      subject,
		Issuer:       issuer,
		Validity:     Validity{NotBefore: now, NotAfter: now.Add(24 * time.Hour)},
		PublicKey:    kp.VerificationKey(),
		Extensions:   exts,
	}
}

// issueCertificate builds and signs a certificate. A nil parent makes it self-signed.
func issueCertificate(t *testing.T, cn string, kp *KeyPair, exts *ExtensionSet, parent *Certificate, parentKey *KeyPair) *Certificate {
	t.Helper()

	subject := testName(t, cn)
	var issuer IssuerSource = IssuerName{Name: subject}
	signingKey := kp
	if parent != nil {
		issuer = IssuerCertificate{Certificate: parent}
		signingKey = parentKey
	}

	tbs, err := NewBuilder(WithLogger(zerolog.Nop())).Build(testRequest(subject, issuer, kp, exts))
	require.NoError(t, err)

	cert, err := NewSigner(NewStdProvider(), WithLogger(zerolog.Nop())).
		Sign(tbs, signingKey.DefaultSignatureAlgorithm(), signingKey.SigningKey())
	require.NoError(t, err)
	return cert
}

type testChain struct {
	rootKey, caKey, eeKey *KeyPair
	root, ca, ee          *Certificate
}

func newTestChain(t *testing.T) testChain {
	t.Helper()

	var c testChain
	c.rootKey = newTestKeyPair(t, KeyAlgorithmECDSA)
	c.caKey = newTestKeyPair(t, KeyAlgorithmECDSA)
	c.eeKey = newTestKeyPair(t, KeyAlgorithmECDSA)

	c.root = issueCertificate(t, "Root", c.rootKey, caExtensions(t, c.rootKey), nil, nil)
	c.ca = issueCertificate(t, "CA", c.caKey, caExtensions(t, c.caKey), c.root, c.rootKey)

	eeExts := NewExtensionSet()
	require.NoError(t, eeExts.Add(BasicConstraints{}, true))
	c.ee = issueCertificate(t, "End Entity", c.eeKey, eeExts, c.ca, c.caKey)
	return c
}
