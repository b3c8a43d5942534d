package pki

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/certchain/internal/telemetry"
)

// KeyAlgorithm names a public key algorithm.
type KeyAlgorithm string

const (
	KeyAlgorithmRSA     KeyAlgorithm = "rsa"
	KeyAlgorithmECDSA   KeyAlgorithm = "ecdsa"
	KeyAlgorithmEd25519 KeyAlgorithm = "ed25519"
)

const (
	defaultRSAKeySize   = 2048
	maxRSAKeySize       = 8192
	defaultECDSAKeySize = 256
	ed25519KeySize      = 256
)

// ParseKeyAlgorithm maps a configuration name to a KeyAlgorithm.
func ParseKeyAlgorithm(name string) (KeyAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsa":
		return KeyAlgorithmRSA, nil
	case "ecdsa", "ec":
		return KeyAlgorithmECDSA, nil
	case "ed25519":
		return KeyAlgorithmEd25519, nil
	default:
		return "", fmt.Errorf("%w: key algorithm %q", ErrUnsupportedAlgorithm, name)
	}
}

// KeyParams holds the algorithm specific key parameters. Size is the RSA
// modulus length or the ECDSA curve size in bits. Zero selects the default.
type KeyParams struct {
	Size int
}

func (p KeyParams) normalize(alg KeyAlgorithm) (KeyParams, error) {
	switch alg {
	case KeyAlgorithmRSA:
		if p.Size == 0 {
			return KeyParams{Size: defaultRSAKeySize}, nil
		}
		if p.Size < defaultRSAKeySize || p.Size > maxRSAKeySize || p.Size%8 != 0 {
			return p, fmt.Errorf("%w: rsa key size %d", ErrUnsupportedAlgorithm, p.Size)
		}
		return p, nil
	case KeyAlgorithmECDSA:
		if p.Size == 0 {
			return KeyParams{Size: defaultECDSAKeySize}, nil
		}
		if _, err := curveForSize(p.Size); err != nil {
			return p, err
		}
		return p, nil
	case KeyAlgorithmEd25519:
		if p.Size != 0 && p.Size != ed25519KeySize {
			return p, fmt.Errorf("%w: ed25519 has a fixed key size", ErrUnsupportedAlgorithm)
		}
		return KeyParams{Size: ed25519KeySize}, nil
	default:
		return p, fmt.Errorf("%w: key algorithm %q", ErrUnsupportedAlgorithm, alg)
	}
}

// KeyPair is an immutable private key with its public half.
type KeyPair struct {
	signer crypto.Signer
	alg    KeyAlgorithm
	size   int
}

// NewKeyPair wraps an existing private key, detecting its algorithm and size.
func NewKeyPair(signer crypto.Signer) (*KeyPair, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: signing key", ErrMissingRequiredField)
	}

	alg, size, err := describePublicKey(signer.Public())
	if err != nil {
		return nil, err
	}

	return &KeyPair{signer: signer, alg: alg, size: size}, nil
}

// SigningKey returns the private key.
func (k *KeyPair) SigningKey() crypto.Signer { return k.signer }

// VerificationKey returns the public key.
func (k *KeyPair) VerificationKey() crypto.PublicKey { return k.signer.Public() }

func (k *KeyPair) Algorithm() KeyAlgorithm { return k.alg }

func (k *KeyPair) Size() int { return k.size }

// DefaultSignatureAlgorithm returns the signature algorithm normally paired with this key.
func (k *KeyPair) DefaultSignatureAlgorithm() SignatureAlgorithm {
	return DefaultSignatureAlgorithm(k.alg, k.size)
}

func describePublicKey(pub crypto.PublicKey) (KeyAlgorithm, int, error) {
	switch pk := pub.(type) {
	case *rsa.PublicKey:
		return KeyAlgorithmRSA, pk.N.BitLen(), nil
	case *ecdsa.PublicKey:
		return KeyAlgorithmECDSA, pk.Curve.Params().BitSize, nil
	case ed25519.PublicKey:
		return KeyAlgorithmEd25519, ed25519KeySize, nil
	default:
		return "", 0, fmt.Errorf("%w: public key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// KeyPairService generates key pairs through a Provider.
type KeyPairService struct {
	provider Provider
	opts     options
}

// NewKeyPairService creates a KeyPairService backed by provider.
func NewKeyPairService(provider Provider, opts ...Option) *KeyPairService {
	return &KeyPairService{provider: provider, opts: newOptions(opts)}
}

// Generate creates a new key pair. No key material is returned on failure.
func (s *KeyPairService) Generate(alg KeyAlgorithm, params KeyParams) (*KeyPair, error) {
	params, err := params.normalize(alg)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	attrs := metric.WithAttributes(attribute.String("algorithm", string(alg)), attribute.Int("size", params.Size))

	signer, err := s.provider.GenerateKeyPair(alg, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}

	kp, err := NewKeyPair(signer)
	if err != nil {
		return nil, err
	}
	if kp.alg != alg {
		return nil, fmt.Errorf("%w: provider %s returned a %s key for %s", ErrUnsupportedAlgorithm, s.provider.Name(), kp.alg, alg)
	}

	m := telemetry.GetMetrics()
	m.KeysGeneratedTotal.Add(context.Background(), 1, attrs)
	m.KeyGenerationDuration.Record(context.Background(), float64(time.Since(started).Milliseconds()), attrs)

	s.logger().Debug().
		Str("algorithm", string(alg)).
		Int("size", kp.size).
		Dur("duration", time.Since(started)).
		Msg("Generated key pair")

	return kp, nil
}

func (s *KeyPairService) logger() *zerolog.Logger {
	return &s.opts.logger
}
