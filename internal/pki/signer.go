package pki

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/certchain/internal/telemetry"
)

// SignatureAlgorithm identifies a certificate signature algorithm.
type SignatureAlgorithm int

const (
	UnknownSignatureAlgorithm SignatureAlgorithm = iota
	SHA256WithRSA
	SHA384WithRSA
	SHA512WithRSA
	ECDSAWithSHA256
	ECDSAWithSHA384
	ECDSAWithSHA512
	PureEd25519
)

type signatureAlgorithmDetails struct {
	name   string
	oid    asn1.ObjectIdentifier
	hash   crypto.Hash
	keyAlg KeyAlgorithm
	x509   x509.SignatureAlgorithm
	// RSA identifiers carry explicit NULL parameters (RFC 4055 section 5).
	nullParams bool
}

var signatureAlgorithms = map[SignatureAlgorithm]signatureAlgorithmDetails{
	SHA256WithRSA:   {"SHA256WithRSA", asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}, crypto.SHA256, KeyAlgorithmRSA, x509.SHA256WithRSA, true},
	SHA384WithRSA:   {"SHA384WithRSA", asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}, crypto.SHA384, KeyAlgorithmRSA, x509.SHA384WithRSA, true},
	SHA512WithRSA:   {"SHA512WithRSA", asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}, crypto.SHA512, KeyAlgorithmRSA, x509.SHA512WithRSA, true},
	ECDSAWithSHA256: {"ECDSAWithSHA256", asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}, crypto.SHA256, KeyAlgorithmECDSA, x509.ECDSAWithSHA256, false},
	ECDSAWithSHA384: {"ECDSAWithSHA384", asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}, crypto.SHA384, KeyAlgorithmECDSA, x509.ECDSAWithSHA384, false},
	ECDSAWithSHA512: {"ECDSAWithSHA512", asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}, crypto.SHA512, KeyAlgorithmECDSA, x509.ECDSAWithSHA512, false},
	PureEd25519:     {"Ed25519", asn1.ObjectIdentifier{1, 3, 101, 112}, 0, KeyAlgorithmEd25519, x509.PureEd25519, false},
}

func (a SignatureAlgorithm) String() string {
	if d, ok := signatureAlgorithms[a]; ok {
		return d.name
	}
	return "UnknownSignatureAlgorithm"
}

// OID returns the algorithm identifier OID.
func (a SignatureAlgorithm) OID() asn1.ObjectIdentifier {
	return signatureAlgorithms[a].oid
}

// KeyAlgorithm returns the key algorithm the signature algorithm requires.
func (a SignatureAlgorithm) KeyAlgorithm() KeyAlgorithm {
	return signatureAlgorithms[a].keyAlg
}

// ParseSignatureAlgorithm accepts names such as "SHA256WithRSA", "SHA256withRSA"
// or "ECDSAWithSHA384", ignoring case.
func ParseSignatureAlgorithm(name string) (SignatureAlgorithm, error) {
	name = strings.TrimSpace(name)
	for alg, d := range signatureAlgorithms {
		if strings.EqualFold(d.name, name) {
			return alg, nil
		}
	}
	if strings.EqualFold(name, "PureEd25519") {
		return PureEd25519, nil
	}
	return UnknownSignatureAlgorithm, fmt.Errorf("%w: signature algorithm %q", ErrUnsupportedAlgorithm, name)
}

// DefaultSignatureAlgorithm picks the algorithm conventionally paired with a key.
func DefaultSignatureAlgorithm(alg KeyAlgorithm, size int) SignatureAlgorithm {
	switch alg {
	case KeyAlgorithmRSA:
		return SHA256WithRSA
	case KeyAlgorithmECDSA:
		switch size {
		case 384:
			return ECDSAWithSHA384
		case 521:
			return ECDSAWithSHA512
		default:
			return ECDSAWithSHA256
		}
	case KeyAlgorithmEd25519:
		return PureEd25519
	default:
		return UnknownSignatureAlgorithm
	}
}

func signatureAlgorithmFromX509(alg x509.SignatureAlgorithm) (SignatureAlgorithm, error) {
	for a, d := range signatureAlgorithms {
		if d.x509 == alg {
			return a, nil
		}
	}
	return UnknownSignatureAlgorithm, fmt.Errorf("%w: signature algorithm %v", ErrUnsupportedAlgorithm, alg)
}

func (d signatureAlgorithmDetails) algorithmIdentifier() pkix.AlgorithmIdentifier {
	ai := pkix.AlgorithmIdentifier{Algorithm: d.oid}
	if d.nullParams {
		ai.Parameters = asn1.NullRawValue
	}
	return ai
}

type tbsCertificate struct {
	Version            int `asn1:"optional,explicit,default:0,tag:0"`
	SerialNumber       *big.Int
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Issuer             asn1.RawValue
	Validity           validity
	Subject            asn1.RawValue
	PublicKey          asn1.RawValue
	Extensions         []pkix.Extension `asn1:"omitempty,optional,explicit,tag:3"`
}

type validity struct {
	NotBefore, NotAfter time.Time
}

type certificate struct {
	TBSCertificate     asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     asn1.BitString
}

// x509v3 is the encoded version field value for X.509 v3.
const x509v3 = 2

func (t *TBSCertificate) marshal(d signatureAlgorithmDetails) ([]byte, error) {
	der, err := asn1.Marshal(tbsCertificate{
		Version:            x509v3,
		SerialNumber:       t.serial,
		SignatureAlgorithm: d.algorithmIdentifier(),
		Issuer:             asn1.RawValue{FullBytes: t.issuerDER},
		Validity:           validity{NotBefore: t.notBefore, NotAfter: t.notAfter},
		Subject:            asn1.RawValue{FullBytes: t.subjectDER},
		PublicKey:          asn1.RawValue{FullBytes: t.publicKeyInfo},
		Extensions:         t.extensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: tbs certificate: %v", ErrEncoding, err)
	}
	return der, nil
}

// Signer turns TBSCertificates into signed certificates using a Provider.
type Signer struct {
	provider Provider
	opts     options
}

func NewSigner(provider Provider, opts ...Option) *Signer {
	return &Signer{provider: provider, opts: newOptions(opts)}
}

// Sign signs tbs with key. The key must suit alg and, when the issuer is a
// certificate (or the certificate is self-issued), must match the issuer's
// public key. The signature is verified before the certificate is returned.
// A TBSCertificate is consumed by the first call, successful or not.
func (s *Signer) Sign(tbs *TBSCertificate, alg SignatureAlgorithm, key crypto.Signer) (*Certificate, error) {
	started := time.Now()
	attrs := metric.WithAttributes(attribute.String("algorithm", alg.String()))
	m := telemetry.GetMetrics()

	cert, err := s.sign(tbs, alg, key)
	if err != nil {
		m.SigningErrorsTotal.Add(context.Background(), 1, attrs)
		return nil, err
	}

	m.CertificatesSignedTotal.Add(context.Background(), 1, attrs)
	m.SigningDuration.Record(context.Background(), float64(time.Since(started).Milliseconds()), attrs)

	s.opts.logger.Debug().
		Str("serial_number", cert.SerialNumber().Text(16)).
		Str("subject", cert.SubjectString()).
		Str("issuer", cert.IssuerString()).
		Str("algorithm", alg.String()).
		Msg("Signed certificate")

	return cert, nil
}

func (s *Signer) sign(tbs *TBSCertificate, alg SignatureAlgorithm, key crypto.Signer) (*Certificate, error) {
	if tbs == nil {
		return nil, fmt.Errorf("%w: tbs certificate", ErrMissingRequiredField)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: signing key", ErrMissingRequiredField)
	}

	d, ok := signatureAlgorithms[alg]
	if !ok {
		return nil, fmt.Errorf("%w: signature algorithm %v", ErrUnsupportedAlgorithm, alg)
	}

	keyAlg, _, err := describePublicKey(key.Public())
	if err != nil {
		return nil, err
	}
	if keyAlg != d.keyAlg {
		return nil, fmt.Errorf("%w: %s key cannot produce %s signatures", ErrSigningKeyMismatch, keyAlg, d.name)
	}

	switch {
	case tbs.issuerCert != nil:
		if err := tbs.issuerCert.MatchesKey(key); err != nil {
			return nil, fmt.Errorf("key does not belong to issuer %s: %w", tbs.issuer, err)
		}
	case tbs.selfIssued():
		if !publicKeysEqual(tbs.publicKey, key.Public()) {
			return nil, fmt.Errorf("%w: self-issued certificate must be signed by its own key", ErrSigningKeyMismatch)
		}
	}

	if !tbs.state.CompareAndSwap(int32(StateTBSAssembled), int32(StateSigned)) {
		return nil, ErrTBSConsumed
	}

	tbsDER, err := tbs.marshal(d)
	if err != nil {
		return nil, err
	}

	digest := tbsDER
	if d.hash != 0 {
		if digest, err = s.provider.Hash(d.hash, tbsDER); err != nil {
			return nil, fmt.Errorf("failed to hash tbs certificate: %w", err)
		}
	}

	signature, err := s.provider.Sign(key, digest, d.hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tbs certificate: %w", err)
	}

	verifier := &x509.Certificate{PublicKey: key.Public()}
	if err := verifier.CheckSignature(d.x509, tbsDER, signature); err != nil {
		return nil, fmt.Errorf("%w: signature does not verify: %v", ErrSigningKeyMismatch, err)
	}

	der, err := asn1.Marshal(certificate{
		TBSCertificate:     asn1.RawValue{FullBytes: tbsDER},
		SignatureAlgorithm: d.algorithmIdentifier(),
		SignatureValue:     asn1.BitString{Bytes: signature, BitLength: len(signature) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrEncoding, err)
	}

	return ParseCertificate(der)
}
