package pki

import (
	"bytes"
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ExtensionValue is the typed content of an X.509 v3 extension. The set of
// implementations is closed; RawExtension covers anything else.
type ExtensionValue interface {
	OID() asn1.ObjectIdentifier
	marshalValue() ([]byte, error)
}

// BasicConstraints marks a certificate as a CA. A nil PathLen leaves the path
// length unconstrained.
type BasicConstraints struct {
	IsCA    bool
	PathLen *int
}

func (BasicConstraints) OID() asn1.ObjectIdentifier { return OIDExtensionBasicConstraints }

func (bc BasicConstraints) marshalValue() ([]byte, error) {
	if bc.PathLen != nil && (*bc.PathLen < 0 || !bc.IsCA) {
		return nil, fmt.Errorf("%w: path length constraint requires a CA and a non-negative length", ErrEncoding)
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		if bc.IsCA {
			b.AddASN1Boolean(true)
		}
		if bc.PathLen != nil {
			b.AddASN1Int64(int64(*bc.PathLen))
		}
	})
	return b.Bytes()
}

// KeyUsage is a bitmask of key usages. Flags compose with bitwise OR and use
// the same bit numbering as crypto/x509.
type KeyUsage uint16

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageContentCommitment
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

var keyUsageNames = []struct {
	usage KeyUsage
	name  string
}{
	{KeyUsageDigitalSignature, "digitalSignature"},
	{KeyUsageContentCommitment, "contentCommitment"},
	{KeyUsageKeyEncipherment, "keyEncipherment"},
	{KeyUsageDataEncipherment, "dataEncipherment"},
	{KeyUsageKeyAgreement, "keyAgreement"},
	{KeyUsageCertSign, "keyCertSign"},
	{KeyUsageCRLSign, "cRLSign"},
	{KeyUsageEncipherOnly, "encipherOnly"},
	{KeyUsageDecipherOnly, "decipherOnly"},
}

// ParseKeyUsage maps a name such as "keyCertSign" to its flag.
func ParseKeyUsage(name string) (KeyUsage, error) {
	for _, ku := range keyUsageNames {
		if strings.EqualFold(ku.name, name) {
			return ku.usage, nil
		}
	}
	if strings.EqualFold(name, "nonRepudiation") {
		return KeyUsageContentCommitment, nil
	}
	return 0, fmt.Errorf("%w: key usage %q", ErrEncoding, name)
}

func (ku KeyUsage) OID() asn1.ObjectIdentifier { return OIDExtensionKeyUsage }

// Has reports whether all flags in u are set.
func (ku KeyUsage) Has(u KeyUsage) bool { return ku&u == u }

func (ku KeyUsage) String() string {
	var names []string
	for _, n := range keyUsageNames {
		if ku.Has(n.usage) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

func (ku KeyUsage) marshalValue() ([]byte, error) {
	if ku == 0 {
		return nil, fmt.Errorf("%w: key usage must set at least one bit", ErrEncoding)
	}

	var a [2]byte
	a[0] = reverseBitsInAByte(byte(ku))
	a[1] = reverseBitsInAByte(byte(ku >> 8))

	l := 1
	if a[1] != 0 {
		l = 2
	}

	bitString := a[:l]
	return asn1.Marshal(asn1.BitString{Bytes: bitString, BitLength: asn1BitLength(bitString)})
}

func asn1BitLength(bitString []byte) int {
	bitLen := len(bitString) * 8

	for i := range bitString {
		b := bitString[len(bitString)-i-1]

		for bit := uint(0); bit < 8; bit++ {
			if (b>>bit)&1 == 1 {
				return bitLen
			}
			bitLen--
		}
	}

	return 0
}

func reverseBitsInAByte(in byte) byte {
	b1 := in>>4 | in<<4
	b2 := b1>>2&0x33 | b1<<2&0xcc
	b3 := b2>>1&0x55 | b2<<1&0xaa
	return b3
}

// ExtendedKeyUsage lists key purpose OIDs.
type ExtendedKeyUsage []asn1.ObjectIdentifier

var extKeyUsageNames = map[string]asn1.ObjectIdentifier{
	"any":             {2, 5, 29, 37, 0},
	"serverauth":      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	"clientauth":      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	"codesigning":     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	"emailprotection": {1, 3, 6, 1, 5, 5, 7, 3, 4},
	"timestamping":    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	"ocspsigning":     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

// ParseExtKeyUsage maps a purpose name such as "serverAuth", or a dotted OID, to its OID.
func ParseExtKeyUsage(name string) (asn1.ObjectIdentifier, error) {
	if oid, ok := extKeyUsageNames[strings.ToLower(name)]; ok {
		return oid, nil
	}
	oid, err := ParseOID(name)
	if err != nil {
		return nil, fmt.Errorf("%w: extended key usage %q", ErrEncoding, name)
	}
	return oid, nil
}

func (ExtendedKeyUsage) OID() asn1.ObjectIdentifier { return OIDExtensionExtendedKeyUsage }

func (eku ExtendedKeyUsage) marshalValue() ([]byte, error) {
	if len(eku) == 0 {
		return nil, fmt.Errorf("%w: extended key usage must not be empty", ErrEncoding)
	}
	return asn1.Marshal([]asn1.ObjectIdentifier(eku))
}

// SubjectKeyIdentifier identifies the certified public key.
type SubjectKeyIdentifier struct {
	KeyID []byte
}

func (SubjectKeyIdentifier) OID() asn1.ObjectIdentifier { return OIDExtensionSubjectKeyIdentifier }

func (ski SubjectKeyIdentifier) marshalValue() ([]byte, error) {
	if len(ski.KeyID) == 0 {
		return nil, fmt.Errorf("%w: subject key identifier", ErrMissingRequiredField)
	}
	return asn1.Marshal(ski.KeyID)
}

// AuthorityKeyIdentifier identifies the issuer key. Issuer and SerialNumber are
// optional but must appear together.
type AuthorityKeyIdentifier struct {
	KeyID        []byte
	Issuer       []GeneralName
	SerialNumber *big.Int
}

func (AuthorityKeyIdentifier) OID() asn1.ObjectIdentifier { return OIDExtensionAuthorityKeyIdentifier }

func (aki AuthorityKeyIdentifier) marshalValue() ([]byte, error) {
	if (len(aki.Issuer) == 0) != (aki.SerialNumber == nil) {
		return nil, fmt.Errorf("%w: authority cert issuer and serial number must be set together", ErrEncoding)
	}

	var issuer, serial []byte
	if aki.SerialNumber != nil {
		var err error
		issuer, err = marshalGeneralNames(cbasn1.Tag(1).ContextSpecific().Constructed(), aki.Issuer)
		if err != nil {
			return nil, err
		}
		der, err := asn1.Marshal(aki.SerialNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: authority cert serial number: %v", ErrEncoding, err)
		}
		if serial, err = elementContents(der, cbasn1.INTEGER); err != nil {
			return nil, err
		}
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		if len(aki.KeyID) > 0 {
			b.AddASN1(cbasn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes(aki.KeyID)
			})
		}
		if issuer != nil {
			b.AddBytes(issuer)
			b.AddASN1(cbasn1.Tag(2).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes(serial)
			})
		}
	})
	return b.Bytes()
}

// SubjectAltName holds the subject alternative names.
type SubjectAltName struct {
	Names []GeneralName
}

func (SubjectAltName) OID() asn1.ObjectIdentifier { return OIDExtensionSubjectAltName }

func (san SubjectAltName) marshalValue() ([]byte, error) {
	return marshalGeneralNames(cbasn1.SEQUENCE, san.Names)
}

// IssuerAltName holds the issuer alternative names.
type IssuerAltName struct {
	Names []GeneralName
}

func (IssuerAltName) OID() asn1.ObjectIdentifier { return OIDExtensionIssuerAltName }

func (ian IssuerAltName) marshalValue() ([]byte, error) {
	return marshalGeneralNames(cbasn1.SEQUENCE, ian.Names)
}

// RawExtension carries a pre-encoded extension value for any other OID.
type RawExtension struct {
	ID    asn1.ObjectIdentifier
	Value []byte
}

func (r RawExtension) OID() asn1.ObjectIdentifier { return r.ID }

func (r RawExtension) marshalValue() ([]byte, error) {
	if len(r.ID) < 2 {
		return nil, fmt.Errorf("%w: raw extension OID", ErrMissingRequiredField)
	}
	return append([]byte(nil), r.Value...), nil
}

// Extension is an extension value with its criticality.
type Extension struct {
	Value    ExtensionValue
	Critical bool
}

func (e Extension) OID() asn1.ObjectIdentifier { return e.Value.OID() }

// MustBeNonCritical reports whether RFC 5280 requires the extension to be
// marked non-critical. crypto/x509 refuses to parse certificates that break this.
func MustBeNonCritical(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(OIDExtensionSubjectKeyIdentifier) || oid.Equal(OIDExtensionAuthorityKeyIdentifier)
}

// AltNameTarget selects the subject or issuer alternative name extension.
type AltNameTarget int

const (
	SubjectAltNames AltNameTarget = iota
	IssuerAltNames
)

// ExtensionSet is an ordered set of extensions with unique OIDs.
// The zero value is ready to use.
type ExtensionSet struct {
	exts []Extension
}

func NewExtensionSet() *ExtensionSet {
	return &ExtensionSet{}
}

// Add appends an extension. Adding an OID that is already present fails with
// ErrDuplicateExtension, and a critical key identifier fails with
// ErrInvalidCriticality.
func (s *ExtensionSet) Add(value ExtensionValue, critical bool) error {
	if value == nil {
		return fmt.Errorf("%w: extension value", ErrMissingRequiredField)
	}
	if critical && MustBeNonCritical(value.OID()) {
		return fmt.Errorf("%w: %s", ErrInvalidCriticality, value.OID())
	}
	if s.Has(value.OID()) {
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, value.OID())
	}
	s.exts = append(s.exts, Extension{Value: value, Critical: critical})
	return nil
}

// AddSubjectAltName appends names to the subject alternative name extension,
// creating it as non-critical when absent.
func (s *ExtensionSet) AddSubjectAltName(names ...GeneralName) error {
	return s.addAltNames(SubjectAltNames, names)
}

// AddIssuerAltName appends names to the issuer alternative name extension,
// creating it as non-critical when absent.
func (s *ExtensionSet) AddIssuerAltName(names ...GeneralName) error {
	return s.addAltNames(IssuerAltNames, names)
}

// AddAlternativeName parses a name in profile form (see ParseGeneralName) and
// appends it to the target extension.
func (s *ExtensionSet) AddAlternativeName(target AltNameTarget, kind, value string) error {
	k, err := ParseGeneralNameKind(kind)
	if err != nil {
		return err
	}
	gn, err := ParseGeneralName(k, value)
	if err != nil {
		return err
	}
	return s.addAltNames(target, []GeneralName{gn})
}

func (s *ExtensionSet) addAltNames(target AltNameTarget, names []GeneralName) error {
	for _, n := range names {
		if n == nil {
			return fmt.Errorf("%w: general name", ErrMissingRequiredField)
		}
	}

	oid := OIDExtensionSubjectAltName
	if target == IssuerAltNames {
		oid = OIDExtensionIssuerAltName
	}

	i := s.index(oid)
	if i < 0 {
		if target == IssuerAltNames {
			return s.Add(IssuerAltName{Names: append([]GeneralName(nil), names...)}, false)
		}
		return s.Add(SubjectAltName{Names: append([]GeneralName(nil), names...)}, false)
	}

	switch v := s.exts[i].Value.(type) {
	case SubjectAltName:
		s.exts[i].Value = SubjectAltName{Names: appendNames(v.Names, names)}
	case IssuerAltName:
		s.exts[i].Value = IssuerAltName{Names: appendNames(v.Names, names)}
	default:
		return fmt.Errorf("%w: %s is held as a raw extension", ErrDuplicateExtension, oid)
	}
	return nil
}

func appendNames(existing, more []GeneralName) []GeneralName {
	out := make([]GeneralName, 0, len(existing)+len(more))
	out = append(out, existing...)
	return append(out, more...)
}

func (s *ExtensionSet) index(oid asn1.ObjectIdentifier) int {
	if s == nil {
		return -1
	}
	for i, e := range s.exts {
		if e.OID().Equal(oid) {
			return i
		}
	}
	return -1
}

// Get returns the extension with the given OID.
func (s *ExtensionSet) Get(oid asn1.ObjectIdentifier) (Extension, bool) {
	i := s.index(oid)
	if i < 0 {
		return Extension{}, false
	}
	return s.exts[i], true
}

func (s *ExtensionSet) Has(oid asn1.ObjectIdentifier) bool {
	return s.index(oid) >= 0
}

func (s *ExtensionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.exts)
}

// Extensions returns the extensions in insertion order.
func (s *ExtensionSet) Extensions() []Extension {
	if s == nil {
		return nil
	}
	return append([]Extension(nil), s.exts...)
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (s *ExtensionSet) Clone() *ExtensionSet {
	return &ExtensionSet{exts: s.Extensions()}
}

// BasicConstraints returns the basic constraints extension value, if present.
func (s *ExtensionSet) BasicConstraints() (BasicConstraints, bool) {
	e, ok := s.Get(OIDExtensionBasicConstraints)
	if !ok {
		return BasicConstraints{}, false
	}
	bc, ok := e.Value.(BasicConstraints)
	return bc, ok
}

// KeyUsage returns the key usage extension value, if present.
func (s *ExtensionSet) KeyUsage() (KeyUsage, bool) {
	e, ok := s.Get(OIDExtensionKeyUsage)
	if !ok {
		return 0, false
	}
	ku, ok := e.Value.(KeyUsage)
	return ku, ok
}

// AuthorityKeyIdentifier returns the authority key identifier value, if present.
func (s *ExtensionSet) AuthorityKeyIdentifier() (AuthorityKeyIdentifier, bool) {
	e, ok := s.Get(OIDExtensionAuthorityKeyIdentifier)
	if !ok {
		return AuthorityKeyIdentifier{}, false
	}
	aki, ok := e.Value.(AuthorityKeyIdentifier)
	return aki, ok
}

// Marshal encodes every extension in insertion order.
func (s *ExtensionSet) Marshal() ([]pkix.Extension, error) {
	if s.Len() == 0 {
		return nil, nil
	}

	out := make([]pkix.Extension, 0, len(s.exts))
	for _, e := range s.exts {
		value, err := e.Value.marshalValue()
		if err != nil {
			return nil, fmt.Errorf("extension %s: %w", e.OID(), err)
		}
		out = append(out, pkix.Extension{Id: e.OID(), Critical: e.Critical, Value: value})
	}
	return out, nil
}

// SubjectKeyID computes the key identifier of a public key as the SHA-1 hash of
// the subjectPublicKey BIT STRING (RFC 5280 4.2.1.2, method 1).
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}

	var info struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &info); err != nil {
		return nil, fmt.Errorf("%w: subject public key info: %v", ErrEncoding, err)
	}

	sum := sha1.Sum(info.PublicKey.Bytes)
	return sum[:], nil
}

// NewAuthorityKeyIdentifier derives the authority key identifier for
// certificates issued by issuer. The key identifier is the issuer's subject key
// identifier, computed from its public key when the extension is absent. With
// includeIssuer the issuer's own issuer name and serial number are added.
func NewAuthorityKeyIdentifier(issuer *Certificate, includeIssuer bool) (AuthorityKeyIdentifier, error) {
	if issuer == nil {
		return AuthorityKeyIdentifier{}, fmt.Errorf("%w: issuer certificate", ErrMissingRequiredField)
	}

	keyID := issuer.SubjectKeyID()
	if len(keyID) == 0 {
		var err error
		if keyID, err = SubjectKeyID(issuer.PublicKey()); err != nil {
			return AuthorityKeyIdentifier{}, err
		}
	}

	aki := AuthorityKeyIdentifier{KeyID: keyID}
	if includeIssuer {
		if !issuer.issuerKnown {
			return AuthorityKeyIdentifier{}, fmt.Errorf("%w: issuer name of %s", ErrUnknownAttributeType, issuer.SubjectString())
		}
		aki.Issuer = []GeneralName{DirectoryName{Name: issuer.Issuer()}}
		aki.SerialNumber = issuer.SerialNumber()
	}
	return aki, nil
}

// keyIDMatches compares an authority key identifier with an issuer's subject
// key identifier, treating a missing side as a match.
func keyIDMatches(aki AuthorityKeyIdentifier, issuer *Certificate) bool {
	ski := issuer.SubjectKeyID()
	if len(aki.KeyID) == 0 || len(ski) == 0 {
		return true
	}
	return bytes.Equal(aki.KeyID, ski)
}
