package pki

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/certchain/internal/telemetry"
)

// PEM block labels
const (
	PEMTypePrivateKey  = "PRIVATE KEY"
	PEMTypeCertificate = "CERTIFICATE"
	PEMTypePKCS7       = "PKCS7"
)

// ToPEM encodes a *KeyPair, *Certificate, []*Certificate or *ManagementMessage.
// Any other type fails with ErrEncoding.
func ToPEM(obj any) ([]byte, error) {
	switch v := obj.(type) {
	case *KeyPair:
		return EncodePrivateKeyPEM(v)
	case *Certificate:
		return EncodeCertificatePEM(v)
	case []*Certificate:
		return EncodeCertificatesPEM(v)
	case *ManagementMessage:
		return EncodeManagementMessagePEM(v)
	default:
		return nil, fmt.Errorf("%w: cannot PEM encode %T", ErrEncoding, obj)
	}
}

// EncodePrivateKeyPEM writes the private key as an unencrypted PKCS#8 "PRIVATE KEY" block.
func EncodePrivateKeyPEM(kp *KeyPair) ([]byte, error) {
	if kp == nil {
		return nil, fmt.Errorf("%w: key pair", ErrMissingRequiredField)
	}

	der, err := marshalPrivateKey(kp.signer)
	if err != nil {
		return nil, err
	}

	return encodePEM(PEMTypePrivateKey, der), nil
}

// EncodeCertificatePEM writes a single "CERTIFICATE" block.
func EncodeCertificatePEM(cert *Certificate) ([]byte, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: certificate", ErrMissingRequiredField)
	}
	return encodePEM(PEMTypeCertificate, cert.raw), nil
}

// EncodeCertificatesPEM concatenates "CERTIFICATE" blocks in order.
func EncodeCertificatesPEM(certs []*Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: certificates", ErrMissingRequiredField)
	}

	var buf bytes.Buffer
	for _, c := range certs {
		block, err := EncodeCertificatePEM(c)
		if err != nil {
			return nil, err
		}
		buf.Write(block)
	}
	return buf.Bytes(), nil
}

// DecodePrivateKeyPEM reads the first block, which must be a PKCS#8 "PRIVATE KEY".
func DecodePrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, err := decodeSingle(data, PEMTypePrivateKey)
	if err != nil {
		return nil, err
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrEncoding, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: private key type %T", ErrUnsupportedAlgorithm, key)
	}

	return NewKeyPair(signer)
}

// DecodeCertificatePEM reads the first block, which must be a "CERTIFICATE".
func DecodeCertificatePEM(data []byte) (*Certificate, error) {
	block, err := decodeSingle(data, PEMTypeCertificate)
	if err != nil {
		return nil, err
	}
	return ParseCertificate(block.Bytes)
}

// DecodeCertificatesPEM reads every "CERTIFICATE" block in order, skipping
// blocks of other types.
func DecodeCertificatesPEM(data []byte) ([]*Certificate, error) {
	var certs []*Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != PEMTypeCertificate {
			continue
		}

		cert, err := ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no %s blocks found", ErrEncoding, PEMTypeCertificate)
	}
	return certs, nil
}

func encodePEM(blockType string, der []byte) []byte {
	encodedArtifact(blockType)
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

func encodedArtifact(kind string) {
	telemetry.GetMetrics().ArtifactsEncodedTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", kind)))
}

func decodeSingle(data []byte, blockType string) (*pem.Block, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrEncoding)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("%w: expected %q block, got %q", ErrEncoding, blockType, block.Type)
	}
	return block, nil
}

func marshalPrivateKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not exportable: %v", ErrEncoding, err)
	}
	return der, nil
}
