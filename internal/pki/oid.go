package pki

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
)

// Certificate extension OIDs (RFC 5280 4.2.1)
var (
	OIDExtensionSubjectKeyIdentifier   = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDExtensionKeyUsage               = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDExtensionSubjectAltName         = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDExtensionIssuerAltName          = asn1.ObjectIdentifier{2, 5, 29, 18}
	OIDExtensionBasicConstraints       = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDExtensionAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDExtensionExtendedKeyUsage       = asn1.ObjectIdentifier{2, 5, 29, 37}
)

// PKCS#7 content types
var (
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
)

// ErrExtensionNotFound is returned when a certificate lacks the requested extension
var ErrExtensionNotFound = errors.New("extension not found")

// FindExtension returns the extension with the given OID from a parsed certificate
func FindExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) (pkix.Extension, error) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return ext, nil
		}
	}
	return pkix.Extension{}, ErrExtensionNotFound
}

// ExtractIssuerAltNames decodes the issuer alternative names, which crypto/x509 does not parse
func ExtractIssuerAltNames(cert *x509.Certificate) ([]GeneralName, error) {
	return extractGeneralNames(cert, OIDExtensionIssuerAltName)
}

// ExtractSubjectAltNames decodes every subject alternative name, including the
// other, directory and registered ID forms that crypto/x509 skips
func ExtractSubjectAltNames(cert *x509.Certificate) ([]GeneralName, error) {
	return extractGeneralNames(cert, OIDExtensionSubjectAltName)
}

func extractGeneralNames(cert *x509.Certificate, oid asn1.ObjectIdentifier) ([]GeneralName, error) {
	ext, err := FindExtension(cert, oid)
	if err != nil {
		return nil, err
	}

	names, err := ParseGeneralNames(ext.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extension %s: %w", oid, err)
	}
	return names, nil
}
