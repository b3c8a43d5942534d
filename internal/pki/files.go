package pki

import (
	"fmt"
	"os"
)

// LoadKeyAndCertificate loads a PEM private key and certificate from files and
// checks that the certificate certifies the key. This is how an existing trust
// anchor is reused instead of generating a new one.
func LoadKeyAndCertificate(keyPath, certPath string) (*KeyPair, *Certificate, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read key file: %w", err)
	}

	kp, err := DecodePrivateKeyPEM(keyData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode key file %s: %w", keyPath, err)
	}

	cert, err := LoadCertificate(certPath)
	if err != nil {
		return nil, nil, err
	}

	if err := cert.MatchesKey(kp.SigningKey()); err != nil {
		return nil, nil, fmt.Errorf("key and certificate do not match: %w", err)
	}

	return kp, cert, nil
}

// LoadCertificate reads the first certificate from a PEM file.
func LoadCertificate(path string) (*Certificate, error) {
	certs, err := LoadCertificates(path)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// LoadCertificates reads every certificate from a PEM file. A file holding a
// "PKCS7" management message yields the certificates it carries.
func LoadCertificates(path string) ([]*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	if certs, err := DecodeCertificatesPEM(data); err == nil {
		return certs, nil
	}

	msg, err := DecodeManagementMessagePEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate file %s: %w", path, err)
	}
	return msg.Certificates(), nil
}

// SavePrivateKey writes the key as a PKCS#8 PEM file readable only by the owner.
func SavePrivateKey(path string, kp *KeyPair) error {
	data, err := EncodePrivateKeyPEM(kp)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// SaveCertificates writes the certificates as concatenated PEM blocks.
func SaveCertificates(path string, certs ...*Certificate) error {
	data, err := EncodeCertificatesPEM(certs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
