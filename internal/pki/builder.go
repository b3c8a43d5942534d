package pki

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"
)

// maxSerialOctets is the RFC 5280 4.1.2.2 limit on the encoded serial number.
const maxSerialOctets = 20

// IssuerSource says who issues a certificate: a bare name for a self-issued
// root, or the issuing certificate. The set of implementations is closed.
type IssuerSource interface {
	isIssuerSource()
}

// IssuerName issues from a distinguished name, as for a self-signed trust anchor.
type IssuerName struct {
	Name DistinguishedName
}

// IssuerCertificate issues from an existing certificate.
type IssuerCertificate struct {
	Certificate *Certificate
}

func (IssuerName) isIssuerSource()        {}
func (IssuerCertificate) isIssuerSource() {}

// Validity is the certificate validity window. A zero NotBefore means now.
type Validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// CertificateRequest holds the inputs of a single certificate.
type CertificateRequest struct {
	SerialNumber *big.Int
	Subject      DistinguishedName
	Issuer       IssuerSource
	Validity     Validity
	PublicKey    crypto.PublicKey
	Extensions   *ExtensionSet
}

// TBSState tracks a certificate through assembly and signing.
type TBSState int32

const (
	StateUnbuilt TBSState = iota
	StateTBSAssembled
	StateSigned
)

func (s TBSState) String() string {
	switch s {
	case StateUnbuilt:
		return "Unbuilt"
	case StateTBSAssembled:
		return "TBSAssembled"
	case StateSigned:
		return "Signed"
	default:
		return "Unknown"
	}
}

// TBSCertificate is an assembled, unsigned certificate. It can be signed once.
type TBSCertificate struct {
	serial        *big.Int
	subject       DistinguishedName
	subjectDER    []byte
	issuer        DistinguishedName
	issuerDER     []byte
	issuerCert    *Certificate
	notBefore     time.Time
	notAfter      time.Time
	publicKey     crypto.PublicKey
	publicKeyInfo []byte
	extensions    []pkix.Extension
	warnings      []string
	state         atomic.Int32
}

func (t *TBSCertificate) SerialNumber() *big.Int          { return new(big.Int).Set(t.serial) }
func (t *TBSCertificate) Subject() DistinguishedName      { return t.subject }
func (t *TBSCertificate) Issuer() DistinguishedName       { return t.issuer }
func (t *TBSCertificate) IssuerCertificate() *Certificate { return t.issuerCert }
func (t *TBSCertificate) NotBefore() time.Time            { return t.notBefore }
func (t *TBSCertificate) NotAfter() time.Time             { return t.notAfter }
func (t *TBSCertificate) PublicKey() crypto.PublicKey     { return t.publicKey }

// Extensions returns the encoded extensions in order.
func (t *TBSCertificate) Extensions() []pkix.Extension {
	return append([]pkix.Extension(nil), t.extensions...)
}

// Warnings lists the consistency problems found while building.
func (t *TBSCertificate) Warnings() []string {
	return append([]string(nil), t.warnings...)
}

func (t *TBSCertificate) State() TBSState {
	return TBSState(t.state.Load())
}

// selfIssued reports whether issuer and subject are the same name.
func (t *TBSCertificate) selfIssued() bool {
	return t.issuerCert == nil && bytes.Equal(t.issuerDER, t.subjectDER)
}

// Builder assembles TBSCertificates from requests.
type Builder struct {
	opts options
}

func NewBuilder(opts ...Option) *Builder {
	return &Builder{opts: newOptions(opts)}
}

// Build validates req and assembles the to-be-signed certificate. When the
// issuer is a certificate, the issuer name is copied from its raw subject and a
// non-critical authority key identifier is added if the request has none.
func (b *Builder) Build(req CertificateRequest) (*TBSCertificate, error) {
	if err := checkRequired(req); err != nil {
		return nil, err
	}

	if err := checkSerialNumber(req.SerialNumber); err != nil {
		return nil, err
	}

	notBefore := req.Validity.NotBefore
	if notBefore.IsZero() {
		notBefore = b.opts.now()
	}
	notBefore = notBefore.UTC().Truncate(time.Second)
	notAfter := req.Validity.NotAfter.UTC().Truncate(time.Second)
	if !notAfter.After(notBefore) {
		return nil, fmt.Errorf("%w: notAfter %s is not after notBefore %s", ErrInvalidValidityWindow,
			notAfter.Format(time.RFC3339), notBefore.Format(time.RFC3339))
	}
	if notBefore.Year() < 1 || notAfter.Year() > 9999 {
		return nil, fmt.Errorf("%w: outside the representable range", ErrInvalidValidityWindow)
	}

	spki, err := x509.MarshalPKIXPublicKey(req.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: subject public key: %v", ErrUnsupportedAlgorithm, err)
	}

	subjectDER, err := req.Subject.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode subject: %w", err)
	}

	tbs := &TBSCertificate{
		serial:        new(big.Int).Set(req.SerialNumber),
		subject:       req.Subject,
		subjectDER:    subjectDER,
		notBefore:     notBefore,
		notAfter:      notAfter,
		publicKey:     req.PublicKey,
		publicKeyInfo: spki,
	}

	exts := req.Extensions.Clone()

	switch src := req.Issuer.(type) {
	case IssuerName:
		if tbs.issuerDER, err = src.Name.Marshal(); err != nil {
			return nil, fmt.Errorf("failed to encode issuer: %w", err)
		}
		tbs.issuer = src.Name
	case IssuerCertificate:
		tbs.issuerCert = src.Certificate
		tbs.issuer = src.Certificate.Subject()
		tbs.issuerDER = bytes.Clone(src.Certificate.X509().RawSubject)

		if !exts.Has(OIDExtensionAuthorityKeyIdentifier) {
			aki, err := NewAuthorityKeyIdentifier(src.Certificate, false)
			if err != nil {
				return nil, err
			}
			if err := exts.Add(aki, false); err != nil {
				return nil, err
			}
		}
	}

	tbs.warnings = consistencyWarnings(exts, tbs.issuerCert)
	for _, w := range tbs.warnings {
		b.opts.logger.Warn().
			Str("serial_number", tbs.serial.Text(16)).
			Str("subject", tbs.subject.String()).
			Msg(w)
	}
	if b.opts.strictKeyUsage && hasKeyUsageWarning(exts) {
		return nil, fmt.Errorf("%w: %s", ErrInconsistentKeyUsage, tbs.subject)
	}

	if tbs.extensions, err = exts.Marshal(); err != nil {
		return nil, err
	}

	tbs.state.Store(int32(StateTBSAssembled))

	return tbs, nil
}

func checkRequired(req CertificateRequest) error {
	switch {
	case req.SerialNumber == nil:
		return fmt.Errorf("%w: serial number", ErrMissingRequiredField)
	case req.Subject.Len() == 0:
		return fmt.Errorf("%w: subject", ErrMissingRequiredField)
	case req.PublicKey == nil:
		return fmt.Errorf("%w: public key", ErrMissingRequiredField)
	}

	switch src := req.Issuer.(type) {
	case IssuerName:
		if src.Name.Len() == 0 {
			return fmt.Errorf("%w: issuer name", ErrMissingRequiredField)
		}
	case IssuerCertificate:
		if src.Certificate == nil {
			return fmt.Errorf("%w: issuer certificate", ErrMissingRequiredField)
		}
	default:
		return fmt.Errorf("%w: issuer", ErrMissingRequiredField)
	}

	return nil
}

func checkSerialNumber(serial *big.Int) error {
	if serial.Sign() <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidSerialNumber)
	}

	b := serial.Bytes()
	n := len(b)
	if b[0]&0x80 != 0 {
		n++
	}
	if n > maxSerialOctets {
		return fmt.Errorf("%w: %d octets exceeds %d", ErrInvalidSerialNumber, n, maxSerialOctets)
	}

	return nil
}

const (
	warnCAWithoutCertSign = "CA certificate does not assert keyCertSign"
	warnCertSignWithoutCA = "keyCertSign asserted on a certificate that is not a CA"
	warnAKIMismatch       = "authority key identifier does not match the issuer subject key identifier"
)

func consistencyWarnings(exts *ExtensionSet, issuer *Certificate) []string {
	var warnings []string

	bc, hasBC := exts.BasicConstraints()
	ku, hasKU := exts.KeyUsage()
	isCA := hasBC && bc.IsCA
	certSign := hasKU && ku.Has(KeyUsageCertSign)

	if isCA && !certSign {
		warnings = append(warnings, warnCAWithoutCertSign)
	}
	if certSign && !isCA {
		warnings = append(warnings, warnCertSignWithoutCA)
	}

	if issuer != nil {
		if aki, ok := exts.AuthorityKeyIdentifier(); ok && !keyIDMatches(aki, issuer) {
			warnings = append(warnings, warnAKIMismatch)
		}
	}

	return warnings
}

func hasKeyUsageWarning(exts *ExtensionSet) bool {
	for _, w := range consistencyWarnings(exts, nil) {
		if w == warnCAWithoutCertSign || w == warnCertSignWithoutCA {
			return true
		}
	}
	return false
}
