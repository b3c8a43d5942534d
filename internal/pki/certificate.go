package pki

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/mr-tron/base58"
)

// Certificate is an immutable signed X.509 certificate.
type Certificate struct {
	raw     []byte
	cert    *x509.Certificate
	subject DistinguishedName
	issuer  DistinguishedName
	sigAlg  SignatureAlgorithm

	// false when the name uses attribute types outside the registry
	subjectKnown, issuerKnown bool
}

// ParseCertificate parses a DER encoded certificate. Names with attribute
// types outside the registry, and signature algorithms this package cannot
// produce, are accepted: Subject or Issuer is then empty and
// SignatureAlgorithm is UnknownSignatureAlgorithm.
func ParseCertificate(der []byte) (*Certificate, error) {
	raw := bytes.Clone(der)

	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrEncoding, err)
	}

	c := &Certificate{raw: raw, cert: cert}

	// x509 has already decoded both names, so a failure here only means an
	// attribute this package cannot represent
	c.subject, c.subjectKnown = parseCertificateName(cert.RawSubject)
	c.issuer, c.issuerKnown = parseCertificateName(cert.RawIssuer)

	// algorithms outside the supported set stay UnknownSignatureAlgorithm
	c.sigAlg, _ = signatureAlgorithmFromX509(cert.SignatureAlgorithm)

	return c, nil
}

func parseCertificateName(der []byte) (DistinguishedName, bool) {
	dn, err := ParseNameDER(der)
	if err != nil {
		return DistinguishedName{}, false
	}
	return dn, true
}

// Raw returns a copy of the DER encoding.
func (c *Certificate) Raw() []byte { return bytes.Clone(c.raw) }

// X509 returns the parsed certificate. Callers must not modify it.
func (c *Certificate) X509() *x509.Certificate { return c.cert }

func (c *Certificate) Subject() DistinguishedName { return c.subject }

func (c *Certificate) Issuer() DistinguishedName { return c.issuer }

// SubjectString renders the subject in RFC 4514 form. Attribute types outside
// the registry are shown as dotted OIDs.
func (c *Certificate) SubjectString() string {
	if c.subjectKnown {
		return c.subject.String()
	}
	return c.cert.Subject.String()
}

// IssuerString renders the issuer like SubjectString.
func (c *Certificate) IssuerString() string {
	if c.issuerKnown {
		return c.issuer.String()
	}
	return c.cert.Issuer.String()
}

// SignatureAlgorithmName names the signature algorithm, including ones outside
// the supported set.
func (c *Certificate) SignatureAlgorithmName() string {
	if c.sigAlg == UnknownSignatureAlgorithm {
		return c.cert.SignatureAlgorithm.String()
	}
	return c.sigAlg.String()
}

func (c *Certificate) SerialNumber() *big.Int { return new(big.Int).Set(c.cert.SerialNumber) }

func (c *Certificate) PublicKey() crypto.PublicKey { return c.cert.PublicKey }

func (c *Certificate) NotBefore() time.Time { return c.cert.NotBefore }

func (c *Certificate) NotAfter() time.Time { return c.cert.NotAfter }

func (c *Certificate) IsCA() bool { return c.cert.BasicConstraintsValid && c.cert.IsCA }

func (c *Certificate) SignatureAlgorithm() SignatureAlgorithm { return c.sigAlg }

func (c *Certificate) SubjectKeyID() []byte { return bytes.Clone(c.cert.SubjectKeyId) }

func (c *Certificate) AuthorityKeyID() []byte { return bytes.Clone(c.cert.AuthorityKeyId) }

// Fingerprint returns the base58 encoded SHA-256 of the DER encoding.
func (c *Certificate) Fingerprint() string {
	return Fingerprint(c.raw)
}

// CheckSignatureFrom verifies that parent signed this certificate. Only a
// signature that does not verify is reported as ErrSigningKeyMismatch, a
// parent that is not allowed to sign certificates is returned as the
// x509.ConstraintViolationError.
func (c *Certificate) CheckSignatureFrom(parent *Certificate) error {
	err := c.cert.CheckSignatureFrom(parent.cert)
	if err == nil {
		return nil
	}

	var constraint x509.ConstraintViolationError
	if errors.As(err, &constraint) {
		return fmt.Errorf("issuer cannot sign certificates: %w", err)
	}
	var insecure x509.InsecureAlgorithmError
	if errors.Is(err, x509.ErrUnsupportedAlgorithm) || errors.As(err, &insecure) {
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	return fmt.Errorf("%w: %v", ErrSigningKeyMismatch, err)
}

// Equal reports whether both certificates have the same DER encoding.
func (c *Certificate) Equal(other *Certificate) bool {
	return other != nil && bytes.Equal(c.raw, other.raw)
}

// Fingerprint returns the base58 encoded SHA-256 of der.
func Fingerprint(der []byte) string {
	return base58.Encode(sha256Sum(der))
}

// MatchesKey reports whether the certificate certifies the public half of key.
func (c *Certificate) MatchesKey(key crypto.Signer) error {
	if key == nil {
		return fmt.Errorf("%w: key", ErrMissingRequiredField)
	}
	if !publicKeysEqual(c.cert.PublicKey, key.Public()) {
		return fmt.Errorf("%w: public keys do not match", ErrSigningKeyMismatch)
	}
	return nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}
