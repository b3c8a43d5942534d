package store

import (
	"context"
	"fmt"
	"sync"
)

var _ CertificateStore = (*MemoryCertificateStore)(nil)

// MemoryCertificateStore is an in-memory CertificateStore that keeps registration order
type MemoryCertificateStore struct {
	mu      sync.RWMutex
	ordered []*CertMetadata
	byFP    map[string]*CertMetadata // indexed by fingerprint
	bySKI   map[string]*CertMetadata // indexed by subject key identifier
}

// NewMemoryCertificateStore creates a new in-memory certificate store
func NewMemoryCertificateStore() *MemoryCertificateStore {
	return &MemoryCertificateStore{
		byFP:  make(map[string]*CertMetadata),
		bySKI: make(map[string]*CertMetadata),
	}
}

// Get retrieves certificate metadata by fingerprint
func (s *MemoryCertificateStore) Get(ctx context.Context, fingerprint string) (*CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.byFP[fingerprint]
	if !exists {
		return nil, ErrCertNotFound
	}

	return copyCert(cert), nil
}

// GetBySubjectKeyID retrieves the first certificate registered with the subject key identifier
func (s *MemoryCertificateStore) GetBySubjectKeyID(ctx context.Context, subjectKeyID string) (*CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.bySKI[subjectKeyID]
	if !exists || subjectKeyID == "" {
		return nil, ErrCertNotFound
	}

	return copyCert(cert), nil
}

// Register stores certificate metadata
func (s *MemoryCertificateStore) Register(ctx context.Context, cert *CertMetadata) error {
	return s.RegisterAll(ctx, cert)
}

// RegisterAll stores every record, or none when one of them already exists
func (s *MemoryCertificateStore) RegisterAll(ctx context.Context, certs ...*CertMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]bool, len(certs))
	for _, cert := range certs {
		if _, exists := s.byFP[cert.Fingerprint]; exists || batch[cert.Fingerprint] {
			return fmt.Errorf("%w: %s", ErrCertAlreadyExists, cert.Fingerprint)
		}
		batch[cert.Fingerprint] = true
	}

	for _, cert := range certs {
		s.index(copyCert(cert))
	}

	return nil
}

func (s *MemoryCertificateStore) index(stored *CertMetadata) {
	s.ordered = append(s.ordered, stored)
	s.byFP[stored.Fingerprint] = stored

	// a re-certified key keeps pointing at its first certificate
	if _, exists := s.bySKI[stored.SubjectKeyID]; !exists && stored.SubjectKeyID != "" {
		s.bySKI[stored.SubjectKeyID] = stored
	}
}

// remove drops records by fingerprint and rebuilds the indexes
func (s *MemoryCertificateStore) remove(certs ...*CertMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(certs))
	for _, cert := range certs {
		drop[cert.Fingerprint] = true
	}

	ordered := s.ordered
	s.ordered = nil
	s.byFP = make(map[string]*CertMetadata, len(ordered))
	s.bySKI = make(map[string]*CertMetadata, len(ordered))
	for _, stored := range ordered {
		if !drop[stored.Fingerprint] {
			s.index(stored)
		}
	}
}

// Path returns the certificate and its issuers, ending at a self-signed certificate
func (s *MemoryCertificateStore) Path(ctx context.Context, fingerprint string) ([]*CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.byFP[fingerprint]
	if !exists {
		return nil, ErrCertNotFound
	}

	path := []*CertMetadata{copyCert(cert)}
	for !cert.SelfSigned() {
		issuer, exists := s.bySKI[cert.AuthorityKeyID]
		if !exists {
			return nil, fmt.Errorf("%w: no issuer with key id %s for %s", ErrBrokenPath, cert.AuthorityKeyID, cert.SubjectDN)
		}
		if len(path) > len(s.ordered) {
			return nil, fmt.Errorf("%w: loop detected at %s", ErrBrokenPath, issuer.SubjectDN)
		}
		path = append(path, copyCert(issuer))
		cert = issuer
	}

	return path, nil
}

// List returns registered certificates in registration order
func (s *MemoryCertificateStore) List(ctx context.Context, opts ListCertificatesOptions) ([]*CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*CertMetadata{}
	for _, cert := range s.ordered {
		if opts.ChainID != "" && cert.ChainID != opts.ChainID {
			continue
		}
		if opts.Role != "" && cert.Role != opts.Role {
			continue
		}

		result = append(result, copyCert(cert))

		// Apply limit
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}

	return result, nil
}

// copyCert returns a copy so callers cannot modify stored records
func copyCert(cert *CertMetadata) *CertMetadata {
	c := *cert
	return &c
}
