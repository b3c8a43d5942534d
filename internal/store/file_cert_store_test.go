package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileCertificateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file opens an empty ledger", func(t *testing.T) {
		s, err := OpenFileCertificateStore(filepath.Join(t.TempDir(), "ledger.yaml"))
		require.NoError(t, err)

		certs, err := s.List(ctx, ListCertificatesOptions{})
		require.NoError(t, err)
		require.Empty(t, certs)
	})

	t.Run("registered certificates survive reopening", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.yaml")

		s, err := OpenFileCertificateStore(path)
		require.NoError(t, err)
		registerAll(t, s, testChain("a"))

		reopened, err := OpenFileCertificateStore(path)
		require.NoError(t, err)
		require.Equal(t, path, reopened.File())

		certs, err := reopened.List(ctx, ListCertificatesOptions{})
		require.NoError(t, err)
		require.Len(t, certs, 3)
		require.Equal(t, "a-root", certs[0].Fingerprint)
		require.True(t, certs[0].NotBefore.Equal(testChain("a")[0].NotBefore))

		path3, err := reopened.Path(ctx, "a-ee")
		require.NoError(t, err)
		require.Len(t, path3, 3)
	})

	t.Run("duplicate register does not rewrite the ledger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.yaml")
		s, err := OpenFileCertificateStore(path)
		require.NoError(t, err)

		cert := testChain("a")[0]
		require.NoError(t, s.Register(ctx, cert))
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		require.ErrorIs(t, s.Register(ctx, cert), ErrCertAlreadyExists)
		after, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, before, after)
	})

	t.Run("ledger is written as yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.yaml")
		s, err := OpenFileCertificateStore(path)
		require.NoError(t, err)
		require.NoError(t, s.Register(ctx, testChain("a")[1]))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(data), "certificates:")
		require.Contains(t, string(data), "role: ca")
		require.Contains(t, string(data), "fingerprint: a-ca")
	})

	t.Run("failed write leaves nothing registered", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "missing")
		s, err := OpenFileCertificateStore(filepath.Join(dir, "ledger.yaml"))
		require.NoError(t, err)

		cert := testChain("a")[0]
		require.Error(t, s.Register(ctx, cert))

		_, err = s.Get(ctx, cert.Fingerprint)
		require.ErrorIs(t, err, ErrCertNotFound)
		_, err = s.GetBySubjectKeyID(ctx, cert.SubjectKeyID)
		require.ErrorIs(t, err, ErrCertNotFound)

		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, s.Register(ctx, cert), "retry after the directory exists")

		reopened, err := OpenFileCertificateStore(filepath.Join(dir, "ledger.yaml"))
		require.NoError(t, err)
		certs, err := reopened.List(ctx, ListCertificatesOptions{})
		require.NoError(t, err)
		require.Len(t, certs, 1)
	})

	t.Run("failed batch write keeps earlier records", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ledger.yaml")
		s, err := OpenFileCertificateStore(path)
		require.NoError(t, err)
		require.NoError(t, s.RegisterAll(ctx, testChain("a")...))

		// the ledger directory vanishing makes the next flush fail
		require.NoError(t, os.RemoveAll(dir))
		require.Error(t, s.RegisterAll(ctx, testChain("b")...))

		certs, err := s.List(ctx, ListCertificatesOptions{})
		require.NoError(t, err)
		require.Len(t, certs, 3)
		require.Equal(t, "a-ee", certs[2].Fingerprint)

		path3, err := s.Path(ctx, "a-ee")
		require.NoError(t, err)
		require.Len(t, path3, 3)
	})

	t.Run("batch with a duplicate writes nothing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.yaml")
		s, err := OpenFileCertificateStore(path)
		require.NoError(t, err)
		require.NoError(t, s.Register(ctx, testChain("a")[2]))

		require.ErrorIs(t, s.RegisterAll(ctx, testChain("a")...), ErrCertAlreadyExists)

		reopened, err := OpenFileCertificateStore(path)
		require.NoError(t, err)
		certs, err := reopened.List(ctx, ListCertificatesOptions{})
		require.NoError(t, err)
		require.Len(t, certs, 1)
	})

	t.Run("corrupt ledger fails to open", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.yaml")
		require.NoError(t, os.WriteFile(path, []byte("certificates: [:"), 0o600))

		_, err := OpenFileCertificateStore(path)
		require.Error(t, err)
	})

	t.Run("lookups delegate to memory", func(t *testing.T) {
		s, err := OpenFileCertificateStore(filepath.Join(t.TempDir(), "ledger.yaml"))
		require.NoError(t, err)
		registerAll(t, s, testChain("a"))

		got, err := s.Get(ctx, "a-ee")
		require.NoError(t, err)
		require.Equal(t, RoleEndEntity, got.Role)

		got, err = s.GetBySubjectKeyID(ctx, "aaa")
		require.NoError(t, err)
		require.Equal(t, "a-root", got.Fingerprint)
	})
}
