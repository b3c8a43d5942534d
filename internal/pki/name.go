package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// AttributeType identifies a distinguished name attribute in the registry.
type AttributeType int

const (
	AttributeCountry AttributeType = iota + 1
	AttributeOrganization
	AttributeOrganizationalUnit
	AttributeLocality
	AttributeState
	AttributeStreet
	AttributeCommonName
	AttributeSerialNumber
	AttributePostalCode
	AttributeEmailAddress
	AttributeDomainComponent
	AttributeUserID
	AttributeTitle
	AttributeGivenName
	AttributeSurname
)

// stringKind selects the DirectoryString encoding for an attribute value.
type stringKind int

const (
	stringUTF8 stringKind = iota
	stringPrintable
	stringIA5
)

type attributeInfo struct {
	short   string
	aliases []string
	oid     asn1.ObjectIdentifier
	kind    stringKind
}

var attributeRegistry = map[AttributeType]attributeInfo{
	AttributeCountry:            {short: "C", aliases: []string{"countryName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 6}, kind: stringPrintable},
	AttributeOrganization:       {short: "O", aliases: []string{"organizationName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 10}},
	AttributeOrganizationalUnit: {short: "OU", aliases: []string{"organizationalUnitName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 11}},
	AttributeLocality:           {short: "L", aliases: []string{"localityName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 7}},
	AttributeState:              {short: "ST", aliases: []string{"S", "stateOrProvinceName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 8}},
	AttributeStreet:             {short: "STREET", aliases: []string{"streetAddress"}, oid: asn1.ObjectIdentifier{2, 5, 4, 9}},
	AttributeCommonName:         {short: "CN", aliases: []string{"commonName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 3}},
	AttributeSerialNumber:       {short: "SERIALNUMBER", aliases: []string{"serialNumber"}, oid: asn1.ObjectIdentifier{2, 5, 4, 5}, kind: stringPrintable},
	AttributePostalCode:         {short: "POSTALCODE", aliases: []string{"postalCode"}, oid: asn1.ObjectIdentifier{2, 5, 4, 17}},
	AttributeEmailAddress:       {short: "E", aliases: []string{"EMAIL", "emailAddress"}, oid: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}, kind: stringIA5},
	AttributeDomainComponent:    {short: "DC", aliases: []string{"domainComponent"}, oid: asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}, kind: stringIA5},
	AttributeUserID:             {short: "UID", aliases: []string{"userid"}, oid: asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}},
	AttributeTitle:              {short: "T", aliases: []string{"title"}, oid: asn1.ObjectIdentifier{2, 5, 4, 12}},
	AttributeGivenName:          {short: "GN", aliases: []string{"givenName"}, oid: asn1.ObjectIdentifier{2, 5, 4, 42}},
	AttributeSurname:            {short: "SN", aliases: []string{"surname"}, oid: asn1.ObjectIdentifier{2, 5, 4, 4}},
}

// String returns the short name used in RFC 4514 strings.
func (t AttributeType) String() string {
	if info, ok := attributeRegistry[t]; ok {
		return info.short
	}
	return "AttributeType(" + strconv.Itoa(int(t)) + ")"
}

// OID returns the attribute OID, or nil for unregistered types.
func (t AttributeType) OID() asn1.ObjectIdentifier {
	return attributeRegistry[t].oid
}

// ParseAttributeType resolves a short name, long name or dotted OID.
func ParseAttributeType(name string) (AttributeType, error) {
	name = strings.TrimSpace(name)
	for t, info := range attributeRegistry {
		if strings.EqualFold(info.short, name) || info.oid.String() == name {
			return t, nil
		}
		for _, alias := range info.aliases {
			if strings.EqualFold(alias, name) {
				return t, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAttributeType, name)
}

func attributeTypeForOID(oid asn1.ObjectIdentifier) (AttributeType, error) {
	for t, info := range attributeRegistry {
		if info.oid.Equal(oid) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownAttributeType, oid)
}

// Attribute is a single type and value pair. Each attribute forms its own RDN.
type Attribute struct {
	Type  AttributeType
	Value string
}

// DistinguishedName is an ordered sequence of single-valued RDNs. The order is
// the encoding order, so the first attribute is the most significant.
type DistinguishedName struct {
	attrs []Attribute
}

// BuildName creates a DistinguishedName from attributes in encoding order.
// Duplicate attribute types are allowed.
func BuildName(attrs ...Attribute) (DistinguishedName, error) {
	for _, a := range attrs {
		info, ok := attributeRegistry[a.Type]
		if !ok {
			return DistinguishedName{}, fmt.Errorf("%w: %v", ErrUnknownAttributeType, a.Type)
		}
		if _, err := valueTag(info, a.Value); err != nil {
			return DistinguishedName{}, fmt.Errorf("attribute %s: %w", info.short, err)
		}
	}

	return DistinguishedName{attrs: append([]Attribute(nil), attrs...)}, nil
}

// NameBuilder collects attributes fluently. The first error is kept and
// returned by Build.
type NameBuilder struct {
	attrs []Attribute
	err   error
}

func NewNameBuilder() *NameBuilder {
	return &NameBuilder{}
}

// Add appends an attribute.
func (b *NameBuilder) Add(t AttributeType, value string) *NameBuilder {
	b.attrs = append(b.attrs, Attribute{Type: t, Value: value})
	return b
}

// AddNamed appends an attribute looked up by name, e.g. "CN" or "emailAddress".
func (b *NameBuilder) AddNamed(name, value string) *NameBuilder {
	t, err := ParseAttributeType(name)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	return b.Add(t, value)
}

func (b *NameBuilder) Build() (DistinguishedName, error) {
	if b.err != nil {
		return DistinguishedName{}, b.err
	}
	return BuildName(b.attrs...)
}

// ParseDistinguishedName parses an RFC 4514 string such as "CN=Root,O=Test,C=AU".
// The string lists the most significant RDN last, so the result is reversed into
// encoding order. Multi-valued RDNs are flattened.
func ParseDistinguishedName(s string) (DistinguishedName, error) {
	dn, err := ldap.ParseDN(s)
	if err != nil {
		return DistinguishedName{}, fmt.Errorf("%w: distinguished name %q: %v", ErrEncoding, s, err)
	}

	b := NewNameBuilder()
	for i := len(dn.RDNs) - 1; i >= 0; i-- {
		for _, atv := range dn.RDNs[i].Attributes {
			b.AddNamed(atv.Type, atv.Value)
		}
	}

	return b.Build()
}

// ParseNameDER decodes a DER encoded Name.
func ParseNameDER(der []byte) (DistinguishedName, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	if err != nil {
		return DistinguishedName{}, fmt.Errorf("%w: name: %v", ErrEncoding, err)
	}
	if len(rest) != 0 {
		return DistinguishedName{}, fmt.Errorf("%w: trailing data after name", ErrEncoding)
	}

	var attrs []Attribute
	for _, rdn := range rdns {
		for _, atv := range rdn {
			t, err := attributeTypeForOID(atv.Type)
			if err != nil {
				return DistinguishedName{}, err
			}
			value, ok := atv.Value.(string)
			if !ok {
				return DistinguishedName{}, fmt.Errorf("%w: attribute %s is not a string", ErrEncoding, t)
			}
			attrs = append(attrs, Attribute{Type: t, Value: value})
		}
	}

	return DistinguishedName{attrs: attrs}, nil
}

// Attributes returns a copy of the attributes in encoding order.
func (dn DistinguishedName) Attributes() []Attribute {
	return append([]Attribute(nil), dn.attrs...)
}

func (dn DistinguishedName) Len() int {
	return len(dn.attrs)
}

// Equal reports whether both names hold the same attributes in the same order.
func (dn DistinguishedName) Equal(other DistinguishedName) bool {
	if len(dn.attrs) != len(other.attrs) {
		return false
	}
	for i := range dn.attrs {
		if dn.attrs[i] != other.attrs[i] {
			return false
		}
	}
	return true
}

// Marshal returns the DER encoding of the Name.
func (dn DistinguishedName) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, a := range dn.attrs {
			info, ok := attributeRegistry[a.Type]
			if !ok {
				b.SetError(fmt.Errorf("%w: %v", ErrUnknownAttributeType, a.Type))
				return
			}
			tag, err := valueTag(info, a.Value)
			if err != nil {
				b.SetError(err)
				return
			}
			b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(info.oid)
					b.AddASN1(tag, func(b *cryptobyte.Builder) {
						b.AddBytes([]byte(a.Value))
					})
				})
			})
		}
	})

	return b.Bytes()
}

// String returns the RFC 4514 form, most significant RDN last.
func (dn DistinguishedName) String() string {
	parts := make([]string, 0, len(dn.attrs))
	for i := len(dn.attrs) - 1; i >= 0; i-- {
		a := dn.attrs[i]
		parts = append(parts, a.Type.String()+"="+escapeAttributeValue(a.Value))
	}
	return strings.Join(parts, ",")
}

func valueTag(info attributeInfo, value string) (cbasn1.Tag, error) {
	if !utf8.ValidString(value) {
		return 0, fmt.Errorf("%w: value is not valid UTF-8", ErrEncoding)
	}

	switch info.kind {
	case stringPrintable:
		if isPrintable(value) {
			return cbasn1.PrintableString, nil
		}
		return cbasn1.UTF8String, nil
	case stringIA5:
		if !isIA5(value) {
			return 0, fmt.Errorf("%w: %s value %q is not IA5", ErrEncoding, info.short, value)
		}
		return cbasn1.IA5String, nil
	default:
		return cbasn1.UTF8String, nil
	}
}

func isPrintable(s string) bool {
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		case strings.ContainsRune(" '()+,-./:=?", r):
		default:
			return false
		}
	}
	return true
}

func isIA5(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func escapeAttributeValue(v string) string {
	var sb strings.Builder
	for i, r := range v {
		switch {
		case strings.ContainsRune(`,+"\<>;=`, r):
			sb.WriteByte('\\')
		case r == '#' && i == 0:
			sb.WriteByte('\\')
		case r == ' ' && (i == 0 || i == len(v)-1):
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
