package pki

import (
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// signedDataVersion is the SignedData version used when only certificates are carried.
const signedDataVersion = 1

// ManagementMessage is a certificate management message: a degenerate PKCS#7
// SignedData with no content and no signers that transports certificates.
type ManagementMessage struct {
	certs []*Certificate
}

// NewManagementMessage creates a message holding certs in the given order.
func NewManagementMessage(certs ...*Certificate) (*ManagementMessage, error) {
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: certificates", ErrMissingRequiredField)
	}
	for i, c := range certs {
		if c == nil {
			return nil, fmt.Errorf("%w: certificate %d", ErrMissingRequiredField, i)
		}
	}
	return &ManagementMessage{certs: append([]*Certificate(nil), certs...)}, nil
}

// Certificates returns the certificates in insertion order.
func (m *ManagementMessage) Certificates() []*Certificate {
	return append([]*Certificate(nil), m.certs...)
}

// Marshal returns the DER encoded ContentInfo.
func (m *ManagementMessage) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDSignedData)
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(signedDataVersion)
				// digestAlgorithms
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {})
				// encapContentInfo, content omitted
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(OIDData)
				})
				b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
					for _, c := range m.certs {
						b.AddBytes(c.raw)
					}
				})
				// signerInfos
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {})
			})
		})
	})

	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: management message: %v", ErrEncoding, err)
	}
	return der, nil
}

// MarshalManagementMessage encodes certs as a management message.
func MarshalManagementMessage(certs ...*Certificate) ([]byte, error) {
	m, err := NewManagementMessage(certs...)
	if err != nil {
		return nil, err
	}
	return m.Marshal()
}

// ParseManagementMessage decodes a DER encoded management message, keeping the
// certificate order.
func ParseManagementMessage(der []byte) (*ManagementMessage, error) {
	input := cryptobyte.String(der)

	var contentInfo, content, signedData cryptobyte.String
	var contentType asn1.ObjectIdentifier
	if !input.ReadASN1(&contentInfo, cbasn1.SEQUENCE) || !input.Empty() ||
		!contentInfo.ReadASN1ObjectIdentifier(&contentType) {
		return nil, fmt.Errorf("%w: malformed content info", ErrEncoding)
	}
	if !contentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %s is not signed data", ErrEncoding, contentType)
	}
	if !contentInfo.ReadASN1(&content, cbasn1.Tag(0).ContextSpecific().Constructed()) ||
		!content.ReadASN1(&signedData, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: malformed signed data", ErrEncoding)
	}

	var version int64
	var certsField cryptobyte.String
	var hasCerts bool
	if !signedData.ReadASN1Integer(&version) ||
		!signedData.SkipASN1(cbasn1.SET) ||
		!signedData.SkipASN1(cbasn1.SEQUENCE) ||
		!signedData.ReadOptionalASN1(&certsField, &hasCerts, cbasn1.Tag(0).ContextSpecific().Constructed()) {
		return nil, fmt.Errorf("%w: malformed signed data", ErrEncoding)
	}
	if !hasCerts {
		return nil, fmt.Errorf("%w: management message has no certificates", ErrEncoding)
	}

	var certs []*Certificate
	for !certsField.Empty() {
		var element cryptobyte.String
		if !certsField.ReadASN1Element(&element, cbasn1.SEQUENCE) {
			return nil, fmt.Errorf("%w: malformed certificate set", ErrEncoding)
		}
		cert, err := ParseCertificate(element)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	return NewManagementMessage(certs...)
}

// EncodeManagementMessagePEM writes the message as a "PKCS7" block.
func EncodeManagementMessagePEM(m *ManagementMessage) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: management message", ErrMissingRequiredField)
	}
	der, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return encodePEM(PEMTypePKCS7, der), nil
}

// DecodeManagementMessagePEM reads the first "PKCS7" block, skipping any blocks before it.
func DecodeManagementMessagePEM(data []byte) (*ManagementMessage, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no %s block found", ErrEncoding, PEMTypePKCS7)
		}
		if block.Type == PEMTypePKCS7 {
			return ParseManagementMessage(block.Bytes)
		}
	}
}
