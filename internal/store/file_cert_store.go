package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var _ CertificateStore = (*FileCertificateStore)(nil)

// ledgerFile is the on-disk layout of a FileCertificateStore
type ledgerFile struct {
	Certificates []*CertMetadata `yaml:"certificates"`
}

// FileCertificateStore is a CertificateStore persisted as a YAML document.
// Every successful Register or RegisterAll rewrites the file.
type FileCertificateStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryCertificateStore
}

// OpenFileCertificateStore loads the ledger at path. A missing file yields an empty ledger.
func OpenFileCertificateStore(path string) (*FileCertificateStore, error) {
	s := &FileCertificateStore{
		path: path,
		mem:  NewMemoryCertificateStore(),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var lf ledgerFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}

	for _, cert := range lf.Certificates {
		if err := s.mem.Register(context.Background(), cert); err != nil {
			return nil, fmt.Errorf("ledger %s: %s: %w", path, cert.Fingerprint, err)
		}
	}

	log.Debug().Str("path", path).Int("certificates", len(lf.Certificates)).Msg("loaded certificate ledger")

	return s, nil
}

// File returns the path of the file backing the ledger
func (s *FileCertificateStore) File() string {
	return s.path
}

func (s *FileCertificateStore) Get(ctx context.Context, fingerprint string) (*CertMetadata, error) {
	return s.mem.Get(ctx, fingerprint)
}

func (s *FileCertificateStore) GetBySubjectKeyID(ctx context.Context, subjectKeyID string) (*CertMetadata, error) {
	return s.mem.GetBySubjectKeyID(ctx, subjectKeyID)
}

func (s *FileCertificateStore) Path(ctx context.Context, fingerprint string) ([]*CertMetadata, error) {
	return s.mem.Path(ctx, fingerprint)
}

func (s *FileCertificateStore) List(ctx context.Context, opts ListCertificatesOptions) ([]*CertMetadata, error) {
	return s.mem.List(ctx, opts)
}

// Register stores the record and flushes the ledger to disk
func (s *FileCertificateStore) Register(ctx context.Context, cert *CertMetadata) error {
	return s.RegisterAll(ctx, cert)
}

// RegisterAll stores the records and flushes the ledger to disk. When the
// flush fails the records are dropped again so memory matches the file.
func (s *FileCertificateStore) RegisterAll(ctx context.Context, certs ...*CertMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.RegisterAll(ctx, certs...); err != nil {
		return err
	}

	if err := s.flush(ctx); err != nil {
		s.mem.remove(certs...)
		return err
	}

	return nil
}

func (s *FileCertificateStore) flush(ctx context.Context) error {
	certs, err := s.mem.List(ctx, ListCertificatesOptions{})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ledgerFile{Certificates: certs}); err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	// written to a sibling temp file and renamed over the ledger
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}
