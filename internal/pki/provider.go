package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Provider is the cryptographic backend used for key generation, hashing and signing.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// GenerateKeyPair creates a new private key. The params have already been
	// normalised by the caller.
	GenerateKeyPair(alg KeyAlgorithm, params KeyParams) (crypto.Signer, error)

	// Hash returns the digest of data.
	Hash(h crypto.Hash, data []byte) ([]byte, error)

	// Sign signs a digest (or the whole message when opts.HashFunc() is zero).
	Sign(key crypto.Signer, digest []byte, opts crypto.SignerOpts) ([]byte, error)
}

var (
	providerOnce sync.Once
	registered   atomic.Value // Provider
)

// RegisterProvider installs the process-wide provider. Only the first call
// succeeds, later calls return ErrProviderAlreadyRegistered.
func RegisterProvider(p Provider) error {
	if p == nil {
		return fmt.Errorf("%w: provider", ErrMissingRequiredField)
	}

	err := ErrProviderAlreadyRegistered
	providerOnce.Do(func() {
		registered.Store(p)
		err = nil
	})

	return err
}

// RegisteredProvider returns the provider installed by RegisterProvider.
func RegisteredProvider() (Provider, error) {
	p, ok := registered.Load().(Provider)
	if !ok {
		return nil, ErrProviderNotRegistered
	}
	return p, nil
}

var _ Provider = (*StdProvider)(nil)

// StdProvider implements Provider with the Go standard library crypto packages.
type StdProvider struct {
	rand io.Reader
}

// NewStdProvider creates a StdProvider reading entropy from crypto/rand.
func NewStdProvider() *StdProvider {
	return &StdProvider{rand: rand.Reader}
}

// Name returns the provider name.
func (p *StdProvider) Name() string {
	return "go-std"
}

// GenerateKeyPair generates an RSA, ECDSA or Ed25519 private key.
func (p *StdProvider) GenerateKeyPair(alg KeyAlgorithm, params KeyParams) (crypto.Signer, error) {
	switch alg {
	case KeyAlgorithmRSA:
		return rsa.GenerateKey(p.rand, params.Size)
	case KeyAlgorithmECDSA:
		curve, err := curveForSize(params.Size)
		if err != nil {
			return nil, err
		}
		return ecdsa.GenerateKey(curve, p.rand)
	case KeyAlgorithmEd25519:
		_, priv, err := ed25519.GenerateKey(p.rand)
		if err != nil {
			return nil, err
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Hash computes the digest of data with h.
func (p *StdProvider) Hash(h crypto.Hash, data []byte) ([]byte, error) {
	if h == 0 || !h.Available() {
		return nil, fmt.Errorf("%w: hash %v", ErrUnsupportedAlgorithm, h)
	}

	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil), nil
}

// Sign delegates to the key's own Sign method.
func (p *StdProvider) Sign(key crypto.Signer, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return key.Sign(p.rand, digest, opts)
}

// SelfTest runs a generate, hash, sign and verify cycle to check the provider works.
func (p *StdProvider) SelfTest() error {
	key, err := p.GenerateKeyPair(KeyAlgorithmECDSA, KeyParams{Size: 256})
	if err != nil {
		return fmt.Errorf("self test key generation failed: %w", err)
	}

	digest, err := p.Hash(crypto.SHA256, []byte("certchain provider self test"))
	if err != nil {
		return fmt.Errorf("self test hash failed: %w", err)
	}

	sig, err := p.Sign(key, digest, crypto.SHA256)
	if err != nil {
		return fmt.Errorf("self test sign failed: %w", err)
	}

	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok || !ecdsa.VerifyASN1(pub, digest, sig) {
		return fmt.Errorf("self test signature did not verify")
	}

	return nil
}

func curveForSize(size int) (elliptic.Curve, error) {
	switch size {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: no curve for size %d", ErrUnsupportedAlgorithm, size)
	}
}

// sha256Sum is used for fingerprints, which never go through the provider.
func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
