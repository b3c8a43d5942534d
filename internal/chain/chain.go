package chain

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/certchain/internal/pki"
	"github.com/wolfeidau/certchain/internal/store"
	"github.com/wolfeidau/certchain/internal/telemetry"
)

// serials drawn at random are below 2^128
var maxRandomSerial = new(big.Int).Lsh(big.NewInt(1), 128)

// Identity is one certificate of a chain with the key it certifies.
type Identity struct {
	Role        store.Role
	Key         *pki.KeyPair
	Certificate *pki.Certificate
}

// Chain is a trust anchor, the CA it issued and the end entity the CA issued.
type Chain struct {
	ID          string
	TrustAnchor Identity
	CA          Identity
	EndEntity   Identity

	includeRoot bool
}

// Certificates returns the certificates from the trust anchor down.
func (c *Chain) Certificates() []*pki.Certificate {
	return []*pki.Certificate{c.TrustAnchor.Certificate, c.CA.Certificate, c.EndEntity.Certificate}
}

// MessageCertificates returns the certificates carried by the management
// message: the CA then the end entity, preceded by the trust anchor when the
// profile asks for it.
func (c *Chain) MessageCertificates() []*pki.Certificate {
	if c.includeRoot {
		return c.Certificates()
	}
	return []*pki.Certificate{c.CA.Certificate, c.EndEntity.Certificate}
}

// Message returns the management message for the chain.
func (c *Chain) Message() (*pki.ManagementMessage, error) {
	return pki.NewManagementMessage(c.MessageCertificates()...)
}

// PEM renders the end entity key, the end entity certificate and the
// management message, in that order.
func (c *Chain) PEM() ([]byte, error) {
	msg, err := c.Message()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, obj := range []any{c.EndEntity.Key, c.EndEntity.Certificate, msg} {
		block, err := pki.ToPEM(obj)
		if err != nil {
			return nil, err
		}
		buf.Write(block)
	}

	return buf.Bytes(), nil
}

// WriteTo writes the output of PEM to w. Nothing is written if encoding fails.
func (c *Chain) WriteTo(w io.Writer) (int64, error) {
	data, err := c.PEM()
	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)
	return int64(n), err
}

// PKCS12 bundles the end entity key and certificate with the CA and trust anchor.
func (c *Chain) PKCS12(password string) ([]byte, error) {
	return pki.EncodePKCS12(c.EndEntity.Key, c.EndEntity.Certificate, c.issuers(), password)
}

// JKS writes a Java keystore holding the end entity key and the issuers.
func (c *Chain) JKS(password string, created time.Time) ([]byte, error) {
	return pki.EncodeJKS(c.EndEntity.Key, c.EndEntity.Certificate, c.issuers(), password, created)
}

func (c *Chain) issuers() []*pki.Certificate {
	return []*pki.Certificate{c.CA.Certificate, c.TrustAnchor.Certificate}
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger, chain builds add a chain_id field to it.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithClock replaces time.Now, used for notBefore and ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithStore records every issued certificate in the ledger as the last step of
// Build. Callers that write other outputs first can call Register themselves.
func WithStore(s store.CertificateStore) Option {
	return func(b *Builder) {
		b.store = s
	}
}

// WithTrustAnchor issues the CA from an existing trust anchor instead of
// generating a new one. The trust anchor profile is then ignored.
func WithTrustAnchor(key *pki.KeyPair, cert *pki.Certificate) Option {
	return func(b *Builder) {
		b.trustKey = key
		b.trustCert = cert
	}
}

// WithStrictKeyUsage fails builds where key usage and basic constraints disagree.
func WithStrictKeyUsage() Option {
	return func(b *Builder) {
		b.strict = true
	}
}

// Builder assembles chains from a Profile.
type Builder struct {
	provider  pki.Provider
	logger    zerolog.Logger
	now       func() time.Time
	store     store.CertificateStore
	trustKey  *pki.KeyPair
	trustCert *pki.Certificate
	strict    bool
}

// NewBuilder creates a Builder that generates keys and signs through provider.
func NewBuilder(provider pki.Provider, opts ...Option) *Builder {
	b := &Builder{
		provider: provider,
		logger:   log.Logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build generates the three key pairs concurrently, then issues the trust
// anchor, CA and end entity in turn. Any failure aborts the whole chain and
// nothing is recorded in the ledger set with WithStore. A nil profile uses
// DefaultProfile.
func (b *Builder) Build(ctx context.Context, p *Profile) (*Chain, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "chain.Build")
	defer span.End()

	started := time.Now()
	m := telemetry.GetMetrics()

	c, err := b.build(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.ChainBuildErrorsTotal.Add(ctx, 1)
		return nil, err
	}

	span.SetAttributes(attribute.String("chain_id", c.ID))
	m.ChainsBuiltTotal.Add(ctx, 1)
	m.ChainBuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	return c, nil
}

func (b *Builder) build(ctx context.Context, p *Profile) (*Chain, error) {
	if b.provider == nil {
		return nil, fmt.Errorf("%w: provider", pki.ErrMissingRequiredField)
	}
	if (b.trustKey == nil) != (b.trustCert == nil) {
		return nil, fmt.Errorf("%w: trust anchor needs both key and certificate", pki.ErrMissingRequiredField)
	}
	if p == nil {
		p = DefaultProfile()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	c := &Chain{
		ID:          uuid.NewString(),
		includeRoot: p.IncludeRoot,
	}
	logger := b.logger.With().Str("chain_id", c.ID).Logger()

	opts := []pki.Option{pki.WithLogger(logger), pki.WithClock(b.now)}
	if b.strict {
		opts = append(opts, pki.WithStrictKeyUsage())
	}

	keys, err := b.generateKeys(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	builder := pki.NewBuilder(opts...)
	signer := pki.NewSigner(b.provider, opts...)

	c.TrustAnchor = Identity{Role: store.RoleTrustAnchor, Key: keys.root, Certificate: b.trustCert}
	if c.TrustAnchor.Certificate == nil {
		if c.TrustAnchor.Certificate, err = b.issue(builder, signer, p.TrustAnchor, keys.root, nil); err != nil {
			return nil, fmt.Errorf("failed to issue trust anchor: %w", err)
		}
	}

	c.CA = Identity{Role: store.RoleCA, Key: keys.ca}
	if c.CA.Certificate, err = b.issue(builder, signer, p.CA, keys.ca, &c.TrustAnchor); err != nil {
		return nil, fmt.Errorf("failed to issue CA: %w", err)
	}

	c.EndEntity = Identity{Role: store.RoleEndEntity, Key: keys.ee}
	if c.EndEntity.Certificate, err = b.issue(builder, signer, p.EndEntity, keys.ee, &c.CA); err != nil {
		return nil, fmt.Errorf("failed to issue end entity: %w", err)
	}

	if b.store != nil {
		if err := b.Register(ctx, b.store, c); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("trust_anchor", c.TrustAnchor.Certificate.SubjectString()).
		Str("ca", c.CA.Certificate.SubjectString()).
		Str("end_entity", c.EndEntity.Certificate.SubjectString()).
		Str("fingerprint", c.EndEntity.Certificate.Fingerprint()).
		Msg("Built certificate chain")

	return c, nil
}

type chainKeys struct {
	root, ca, ee *pki.KeyPair
}

func (b *Builder) generateKeys(ctx context.Context, p *Profile, opts []pki.Option) (chainKeys, error) {
	svc := pki.NewKeyPairService(b.provider, opts...)

	var keys chainKeys
	g, ctx := errgroup.WithContext(ctx)

	generate := func(dst **pki.KeyPair, ip IdentityProfile) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			alg, err := ip.keyAlgorithm()
			if err != nil {
				return err
			}
			kp, err := svc.Generate(alg, pki.KeyParams{Size: ip.KeySize})
			if err != nil {
				return err
			}
			*dst = kp
			return nil
		})
	}

	if b.trustKey != nil {
		keys.root = b.trustKey
	} else {
		generate(&keys.root, p.TrustAnchor)
	}
	generate(&keys.ca, p.CA)
	generate(&keys.ee, p.EndEntity)

	if err := g.Wait(); err != nil {
		return chainKeys{}, err
	}

	return keys, nil
}

// issue builds and signs one certificate. A nil issuer makes it self-signed.
func (b *Builder) issue(builder *pki.Builder, signer *pki.Signer, ip IdentityProfile, subjectKey *pki.KeyPair, issuer *Identity) (*pki.Certificate, error) {
	subject, err := ip.subject()
	if err != nil {
		return nil, err
	}

	serial, err := serialNumber(ip.Serial)
	if err != nil {
		return nil, err
	}

	exts, err := ip.extensions(subjectKey)
	if err != nil {
		return nil, err
	}

	notBefore := b.now().UTC()
	req := pki.CertificateRequest{
		SerialNumber: serial,
		Subject:      subject,
		Validity:     pki.Validity{NotBefore: notBefore, NotAfter: notBefore.Add(ip.validFor())},
		PublicKey:    subjectKey.VerificationKey(),
		Extensions:   exts,
	}

	signingKey := subjectKey
	if issuer == nil {
		req.Issuer = pki.IssuerName{Name: subject}
	} else {
		req.Issuer = pki.IssuerCertificate{Certificate: issuer.Certificate}
		signingKey = issuer.Key

		aki, err := pki.NewAuthorityKeyIdentifier(issuer.Certificate, false)
		if err != nil {
			return nil, err
		}
		if err := exts.Add(aki, ip.critical(ExtAuthorityKeyIdentifier)); err != nil {
			return nil, err
		}
	}

	tbs, err := builder.Build(req)
	if err != nil {
		return nil, err
	}

	alg := signingKey.DefaultSignatureAlgorithm()
	if ip.SignatureAlgorithm != "" {
		if alg, err = pki.ParseSignatureAlgorithm(ip.SignatureAlgorithm); err != nil {
			return nil, err
		}
	}

	return signer.Sign(tbs, alg, signingKey.SigningKey())
}

// Register records the chain's certificates in s, all of them or none. A
// reused trust anchor that s already holds stays under the chain that first
// recorded it.
func (b *Builder) Register(ctx context.Context, s store.CertificateStore, c *Chain) error {
	registeredAt := b.now()

	ids := []Identity{c.CA, c.EndEntity}
	_, err := s.Get(ctx, c.TrustAnchor.Certificate.Fingerprint())
	switch {
	case errors.Is(err, store.ErrCertNotFound):
		ids = append([]Identity{c.TrustAnchor}, ids...)
	case err != nil:
		return fmt.Errorf("failed to look up trust anchor: %w", err)
	case b.trustCert == nil:
		return fmt.Errorf("failed to register chain: trust anchor: %w", store.ErrCertAlreadyExists)
	}

	records := make([]*store.CertMetadata, 0, len(ids))
	for _, id := range ids {
		records = append(records, store.NewCertMetadata(id.Certificate, c.ID, id.Role, registeredAt))
	}

	if err := s.RegisterAll(ctx, records...); err != nil {
		return fmt.Errorf("failed to register chain: %w", err)
	}

	m := telemetry.GetMetrics()
	for _, id := range ids {
		m.CertificatesRegistered.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(id.Role))))
	}

	return nil
}

func serialNumber(n uint64) (*big.Int, error) {
	if n != 0 {
		return new(big.Int).SetUint64(n), nil
	}

	serial, err := rand.Int(rand.Reader, maxRandomSerial)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial.Add(serial, big.NewInt(1)), nil
}
