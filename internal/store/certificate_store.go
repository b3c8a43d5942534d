package store

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/wolfeidau/certchain/internal/pki"
)

// Role is the position of a certificate in a chain
type Role string

const (
	RoleTrustAnchor Role = "trust-anchor"
	RoleCA          Role = "ca"
	RoleEndEntity   Role = "end-entity"
)

// CertMetadata is the ledger record of an issued certificate
type CertMetadata struct {
	Fingerprint        string    `json:"fingerprint" yaml:"fingerprint"`
	SerialNumber       string    `json:"serial_number" yaml:"serial_number"`
	ChainID            string    `json:"chain_id" yaml:"chain_id"`
	Role               Role      `json:"role" yaml:"role"`
	SubjectDN          string    `json:"subject_dn" yaml:"subject_dn"`
	IssuerDN           string    `json:"issuer_dn" yaml:"issuer_dn"`
	SubjectKeyID       string    `json:"subject_key_id,omitempty" yaml:"subject_key_id,omitempty"`
	AuthorityKeyID     string    `json:"authority_key_id,omitempty" yaml:"authority_key_id,omitempty"`
	IsCA               bool      `json:"is_ca" yaml:"is_ca"`
	SignatureAlgorithm string    `json:"signature_algorithm" yaml:"signature_algorithm"`
	NotBefore          time.Time `json:"not_before" yaml:"not_before"`
	NotAfter           time.Time `json:"not_after" yaml:"not_after"`
	RegisteredAt       time.Time `json:"registered_at" yaml:"registered_at"`
}

// SelfSigned reports whether the record has no distinct authority key
func (m *CertMetadata) SelfSigned() bool {
	return m.AuthorityKeyID == "" || m.AuthorityKeyID == m.SubjectKeyID
}

// CertificateStore is the issuance ledger
type CertificateStore interface {
	// Get retrieves certificate metadata by fingerprint
	Get(ctx context.Context, fingerprint string) (*CertMetadata, error)

	// GetBySubjectKeyID retrieves the certificate holding a subject key identifier (hex)
	GetBySubjectKeyID(ctx context.Context, subjectKeyID string) (*CertMetadata, error)

	// Register stores certificate metadata
	Register(ctx context.Context, cert *CertMetadata) error

	// RegisterAll stores every record or, on any error, none of them
	RegisterAll(ctx context.Context, certs ...*CertMetadata) error

	// Path walks authority key identifiers from a certificate up to its trust anchor
	Path(ctx context.Context, fingerprint string) ([]*CertMetadata, error)

	// List returns registered certificates in registration order
	List(ctx context.Context, opts ListCertificatesOptions) ([]*CertMetadata, error)
}

// ListCertificatesOptions specifies filters for listing certificates
type ListCertificatesOptions struct {
	ChainID string // Filter by chain (empty = all)
	Role    Role   // Filter by role (empty = all)
	Limit   int    // Max results (0 = no limit)
}

// Errors
var (
	ErrCertNotFound      = errors.New("certificate not found")
	ErrCertAlreadyExists = errors.New("certificate already exists")
	ErrBrokenPath        = errors.New("certificate path is broken")
)

// NewCertMetadata creates the ledger record for a certificate issued as part of a chain
func NewCertMetadata(cert *pki.Certificate, chainID string, role Role, registeredAt time.Time) *CertMetadata {
	return &CertMetadata{
		Fingerprint:        cert.Fingerprint(),
		SerialNumber:       cert.SerialNumber().Text(16),
		ChainID:            chainID,
		Role:               role,
		SubjectDN:          cert.SubjectString(),
		IssuerDN:           cert.IssuerString(),
		SubjectKeyID:       hex.EncodeToString(cert.SubjectKeyID()),
		AuthorityKeyID:     hex.EncodeToString(cert.AuthorityKeyID()),
		IsCA:               cert.IsCA(),
		SignatureAlgorithm: cert.SignatureAlgorithmName(),
		NotBefore:          cert.NotBefore(),
		NotAfter:           cert.NotAfter(),
		RegisteredAt:       registeredAt.UTC(),
	}
}
