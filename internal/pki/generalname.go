package pki

import (
	"encoding/asn1"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// GeneralNameKind is the context tag of a GeneralName CHOICE (RFC 5280 4.2.1.6).
type GeneralNameKind int

const (
	KindOtherName     GeneralNameKind = 0
	KindRFC822Name    GeneralNameKind = 1
	KindDNSName       GeneralNameKind = 2
	KindDirectoryName GeneralNameKind = 4
	KindURI           GeneralNameKind = 6
	KindIPAddress     GeneralNameKind = 7
	KindRegisteredID  GeneralNameKind = 8
)

func (k GeneralNameKind) String() string {
	switch k {
	case KindOtherName:
		return "other"
	case KindRFC822Name:
		return "email"
	case KindDNSName:
		return "dns"
	case KindDirectoryName:
		return "dirname"
	case KindURI:
		return "uri"
	case KindIPAddress:
		return "ip"
	case KindRegisteredID:
		return "rid"
	default:
		return "GeneralNameKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseGeneralNameKind accepts the kind names used in profiles, including aliases.
func ParseGeneralNameKind(s string) (GeneralNameKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "other", "othername":
		return KindOtherName, nil
	case "email", "rfc822", "rfc822name":
		return KindRFC822Name, nil
	case "dns", "dnsname":
		return KindDNSName, nil
	case "dirname", "directory", "directoryname":
		return KindDirectoryName, nil
	case "uri", "url", "uniformresourceidentifier":
		return KindURI, nil
	case "ip", "ipaddress":
		return KindIPAddress, nil
	case "rid", "registered", "registeredid":
		return KindRegisteredID, nil
	default:
		return 0, fmt.Errorf("%w: general name kind %q", ErrEncoding, s)
	}
}

// GeneralName is one of the variants below. The set is closed.
type GeneralName interface {
	Kind() GeneralNameKind
	String() string
	marshal(b *cryptobyte.Builder)
}

type (
	RFC822Name    string
	DNSName       string
	URIName       string
	IPAddressName net.IP
	RegisteredID  asn1.ObjectIdentifier
)

// DirectoryName carries a full distinguished name.
type DirectoryName struct {
	Name DistinguishedName
}

// OtherName pairs a type OID with an arbitrary DER encoded value.
type OtherName struct {
	TypeID asn1.ObjectIdentifier
	Value  []byte
}

func (n RFC822Name) Kind() GeneralNameKind    { return KindRFC822Name }
func (n DNSName) Kind() GeneralNameKind       { return KindDNSName }
func (n URIName) Kind() GeneralNameKind       { return KindURI }
func (n IPAddressName) Kind() GeneralNameKind { return KindIPAddress }
func (n RegisteredID) Kind() GeneralNameKind  { return KindRegisteredID }
func (n DirectoryName) Kind() GeneralNameKind { return KindDirectoryName }
func (n OtherName) Kind() GeneralNameKind     { return KindOtherName }

func (n RFC822Name) String() string    { return string(n) }
func (n DNSName) String() string       { return string(n) }
func (n URIName) String() string       { return string(n) }
func (n IPAddressName) String() string { return net.IP(n).String() }
func (n RegisteredID) String() string  { return asn1.ObjectIdentifier(n).String() }
func (n DirectoryName) String() string { return n.Name.String() }
func (n OtherName) String() string     { return fmt.Sprintf("%s;%X", n.TypeID, n.Value) }

func (n RFC822Name) marshal(b *cryptobyte.Builder) { addIA5Name(b, KindRFC822Name, string(n)) }
func (n DNSName) marshal(b *cryptobyte.Builder)    { addIA5Name(b, KindDNSName, string(n)) }
func (n URIName) marshal(b *cryptobyte.Builder)    { addIA5Name(b, KindURI, string(n)) }

func (n IPAddressName) marshal(b *cryptobyte.Builder) {
	ip := net.IP(n)
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if len(ip) != net.IPv4len && len(ip) != net.IPv6len {
		b.SetError(fmt.Errorf("%w: invalid IP address length %d", ErrEncoding, len(ip)))
		return
	}
	b.AddASN1(contextTag(KindIPAddress), func(b *cryptobyte.Builder) {
		b.AddBytes(ip)
	})
}

func (n RegisteredID) marshal(b *cryptobyte.Builder) {
	der, err := asn1.Marshal(asn1.ObjectIdentifier(n))
	if err != nil {
		b.SetError(fmt.Errorf("%w: registered id: %v", ErrEncoding, err))
		return
	}
	contents, err := elementContents(der, cbasn1.OBJECT_IDENTIFIER)
	if err != nil {
		b.SetError(err)
		return
	}
	b.AddASN1(contextTag(KindRegisteredID), func(b *cryptobyte.Builder) {
		b.AddBytes(contents)
	})
}

func (n DirectoryName) marshal(b *cryptobyte.Builder) {
	der, err := n.Name.Marshal()
	if err != nil {
		b.SetError(err)
		return
	}
	// directoryName is the only EXPLICIT choice, since Name is itself a CHOICE.
	b.AddASN1(contextTag(KindDirectoryName).Constructed(), func(b *cryptobyte.Builder) {
		b.AddBytes(der)
	})
}

func (n OtherName) marshal(b *cryptobyte.Builder) {
	if len(n.TypeID) < 2 {
		b.SetError(fmt.Errorf("%w: other name type id", ErrMissingRequiredField))
		return
	}
	var raw asn1.RawValue
	if rest, err := asn1.Unmarshal(n.Value, &raw); err != nil || len(rest) != 0 {
		b.SetError(fmt.Errorf("%w: other name value is not a single DER element", ErrEncoding))
		return
	}
	b.AddASN1(contextTag(KindOtherName).Constructed(), func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(n.TypeID)
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddBytes(n.Value)
		})
	})
}

func contextTag(k GeneralNameKind) cbasn1.Tag {
	return cbasn1.Tag(k).ContextSpecific()
}

func addIA5Name(b *cryptobyte.Builder, kind GeneralNameKind, value string) {
	if value == "" {
		b.SetError(fmt.Errorf("%w: empty %s name", ErrEncoding, kind))
		return
	}
	if !isIA5(value) {
		b.SetError(fmt.Errorf("%w: %s name %q is not IA5", ErrEncoding, kind, value))
		return
	}
	b.AddASN1(contextTag(kind), func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(value))
	})
}

// marshalGeneralNames encodes a GeneralNames SEQUENCE under the given tag.
func marshalGeneralNames(tag cbasn1.Tag, names []GeneralName) ([]byte, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: general names must not be empty", ErrEncoding)
	}

	var b cryptobyte.Builder
	b.AddASN1(tag, func(b *cryptobyte.Builder) {
		for _, n := range names {
			if n == nil {
				b.SetError(fmt.Errorf("%w: nil general name", ErrMissingRequiredField))
				return
			}
			n.marshal(b)
		}
	})
	return b.Bytes()
}

// ParseGeneralName builds a GeneralName from its profile form. Other names are
// written as "<oid>;<value>" and the value is encoded as a UTF8String.
func ParseGeneralName(kind GeneralNameKind, value string) (GeneralName, error) {
	switch kind {
	case KindRFC822Name:
		return RFC822Name(value), nil
	case KindDNSName:
		return DNSName(value), nil
	case KindURI:
		return URIName(value), nil
	case KindIPAddress:
		ip := net.ParseIP(strings.TrimSpace(value))
		if ip == nil {
			return nil, fmt.Errorf("%w: invalid IP address %q", ErrEncoding, value)
		}
		return IPAddressName(ip), nil
	case KindDirectoryName:
		dn, err := ParseDistinguishedName(value)
		if err != nil {
			return nil, err
		}
		return DirectoryName{Name: dn}, nil
	case KindRegisteredID:
		oid, err := ParseOID(value)
		if err != nil {
			return nil, err
		}
		return RegisteredID(oid), nil
	case KindOtherName:
		typeID, rest, ok := strings.Cut(value, ";")
		if !ok {
			return nil, fmt.Errorf("%w: other name %q must be <oid>;<value>", ErrEncoding, value)
		}
		oid, err := ParseOID(typeID)
		if err != nil {
			return nil, err
		}
		der, err := asn1.MarshalWithParams(rest, "utf8")
		if err != nil {
			return nil, fmt.Errorf("%w: other name value: %v", ErrEncoding, err)
		}
		return OtherName{TypeID: oid, Value: der}, nil
	default:
		return nil, fmt.Errorf("%w: general name kind %v", ErrEncoding, kind)
	}
}

// ParseOID parses a dotted decimal object identifier.
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: invalid OID %q", ErrEncoding, s)
	}

	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid OID %q", ErrEncoding, s)
		}
		oid[i] = n
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] >= 40) {
		return nil, fmt.Errorf("%w: invalid OID %q", ErrEncoding, s)
	}

	return oid, nil
}

// elementContents returns the contents octets of a single DER element.
func elementContents(der []byte, tag cbasn1.Tag) ([]byte, error) {
	input := cryptobyte.String(der)
	var contents cryptobyte.String
	if !input.ReadASN1(&contents, tag) || !input.Empty() {
		return nil, fmt.Errorf("%w: malformed element", ErrEncoding)
	}
	return contents, nil
}

// ParseGeneralNames decodes a GeneralNames SEQUENCE, as found in the subject
// and issuer alternative name extensions.
func ParseGeneralNames(der []byte) ([]GeneralName, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: malformed general names", ErrEncoding)
	}

	var names []GeneralName
	for !seq.Empty() {
		var value cryptobyte.String
		var tag cbasn1.Tag
		if !seq.ReadAnyASN1(&value, &tag) {
			return nil, fmt.Errorf("%w: malformed general name", ErrEncoding)
		}

		switch tag {
		case contextTag(KindRFC822Name):
			names = append(names, RFC822Name(value))
		case contextTag(KindDNSName):
			names = append(names, DNSName(value))
		case contextTag(KindURI):
			names = append(names, URIName(value))
		case contextTag(KindIPAddress):
			names = append(names, IPAddressName(append(net.IP(nil), value...)))
		case contextTag(KindRegisteredID):
			var b cryptobyte.Builder
			b.AddASN1(cbasn1.OBJECT_IDENTIFIER, func(b *cryptobyte.Builder) {
				b.AddBytes(value)
			})
			full, err := b.Bytes()
			if err != nil {
				return nil, fmt.Errorf("%w: registered id: %v", ErrEncoding, err)
			}
			var oid asn1.ObjectIdentifier
			s := cryptobyte.String(full)
			if !s.ReadASN1ObjectIdentifier(&oid) {
				return nil, fmt.Errorf("%w: malformed registered id", ErrEncoding)
			}
			names = append(names, RegisteredID(oid))
		case contextTag(KindDirectoryName).Constructed():
			dn, err := ParseNameDER(value)
			if err != nil {
				return nil, err
			}
			names = append(names, DirectoryName{Name: dn})
		case contextTag(KindOtherName).Constructed():
			var oid asn1.ObjectIdentifier
			var inner cryptobyte.String
			if !value.ReadASN1ObjectIdentifier(&oid) ||
				!value.ReadASN1(&inner, cbasn1.Tag(0).ContextSpecific().Constructed()) {
				return nil, fmt.Errorf("%w: malformed other name", ErrEncoding)
			}
			names = append(names, OtherName{TypeID: oid, Value: append([]byte(nil), inner...)})
		default:
			return nil, fmt.Errorf("%w: unsupported general name tag %d", ErrEncoding, tag)
		}
	}

	return names, nil
}
