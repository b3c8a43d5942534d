package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/certchain/internal/chain"
	"github.com/wolfeidau/certchain/internal/logger"
	"github.com/wolfeidau/certchain/internal/pki"
	"github.com/wolfeidau/certchain/internal/store"
	"github.com/wolfeidau/certchain/internal/telemetry"
)

const serviceName = "certchain"

// GenerateCmd builds a chain and writes the end entity key, the end entity
// certificate and the management message.
type GenerateCmd struct {
	Profile        string `help:"YAML chain profile, defaults are used when empty" type:"existingfile"`
	Output         string `help:"file for the key, certificate and management message PEM (- for stdout)" short:"o" default:"-"`
	OutDir         string `help:"also write every key and certificate as separate PEM files to this directory"`
	PKCS12         string `name:"pkcs12" help:"write a PKCS#12 bundle of the end entity to this path"`
	PKCS12Password string `name:"pkcs12-password" help:"PKCS#12 bundle password" env:"CERTCHAIN_PKCS12_PASSWORD"`
	JKS            string `name:"jks" help:"write a Java keystore of the end entity to this path"`
	JKSPassword    string `name:"jks-password" help:"Java keystore password" env:"CERTCHAIN_JKS_PASSWORD" default:"changeit"`
	IncludeRoot    bool   `help:"include the trust anchor in the management message"`
	RootCert       string `help:"issue from an existing trust anchor certificate (requires --root-key)" type:"existingfile"`
	RootKey        string `help:"PKCS#8 private key of the existing trust anchor" type:"existingfile"`
	Ledger         string `help:"record issued certificates in this YAML ledger"`
	Strict         bool   `help:"fail when key usage and basic constraints disagree"`
	OTel           bool   `name:"otel" help:"export traces and metrics over OTLP gRPC"`
}

// Run executes the generate command
func (cmd *GenerateCmd) Run(ctx context.Context, globals *Globals) error {
	log.Logger = logger.New(globals.stderr(), globals.Debug)

	if cmd.OTel {
		shutdown, err := telemetry.InitTelemetry(ctx, serviceName, globals.Version)
		if err != nil {
			return fmt.Errorf("failed to initialise telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry")
			}
		}()
	}

	provider, err := registerProvider()
	if err != nil {
		return err
	}

	if cmd.JKS != "" {
		if err := pki.ValidateJKSPassword(cmd.JKSPassword); err != nil {
			return fmt.Errorf("invalid --jks-password: %w", err)
		}
	}

	profile, err := cmd.loadProfile()
	if err != nil {
		return err
	}

	opts, err := cmd.builderOptions()
	if err != nil {
		return err
	}

	var ledger *store.FileCertificateStore
	if cmd.Ledger != "" {
		if ledger, err = store.OpenFileCertificateStore(cmd.Ledger); err != nil {
			return err
		}
	}

	builder := chain.NewBuilder(provider, opts...)
	c, err := builder.Build(ctx, profile)
	if err != nil {
		return fmt.Errorf("failed to build chain: %w", err)
	}

	// render everything before writing so a failure leaves no partial output
	artifacts, err := cmd.render(c)
	if err != nil {
		return err
	}

	if err := artifacts.write(globals); err != nil {
		return err
	}

	// the ledger only records chains whose outputs were written
	if ledger != nil {
		if err := builder.Register(ctx, ledger, c); err != nil {
			return err
		}
	}

	cmd.printSummary(globals, c, artifacts)

	return nil
}

func (cmd *GenerateCmd) loadProfile() (*chain.Profile, error) {
	profile := chain.DefaultProfile()
	if cmd.Profile != "" {
		var err error
		if profile, err = chain.LoadProfile(cmd.Profile); err != nil {
			return nil, err
		}
	}
	if cmd.IncludeRoot {
		profile.IncludeRoot = true
	}
	return profile, nil
}

func (cmd *GenerateCmd) builderOptions() ([]chain.Option, error) {
	opts := []chain.Option{chain.WithLogger(log.Logger)}

	if cmd.Strict {
		opts = append(opts, chain.WithStrictKeyUsage())
	}

	if (cmd.RootCert == "") != (cmd.RootKey == "") {
		return nil, fmt.Errorf("--root-cert and --root-key must be used together")
	}
	if cmd.RootCert != "" {
		key, cert, err := pki.LoadKeyAndCertificate(cmd.RootKey, cmd.RootCert)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust anchor: %w", err)
		}
		opts = append(opts, chain.WithTrustAnchor(key, cert))
	}

	return opts, nil
}

type outputFile struct {
	path string
	data []byte
	perm os.FileMode
}

type artifacts struct {
	output outputFile
	files  []outputFile
}

func (cmd *GenerateCmd) render(c *chain.Chain) (*artifacts, error) {
	out, err := c.PEM()
	if err != nil {
		return nil, fmt.Errorf("failed to encode chain: %w", err)
	}

	a := &artifacts{output: outputFile{path: cmd.Output, data: out, perm: 0600}}

	if cmd.OutDir != "" {
		if err := cmd.renderOutDir(c, a); err != nil {
			return nil, err
		}
	}

	if cmd.PKCS12 != "" {
		pfx, err := c.PKCS12(cmd.PKCS12Password)
		if err != nil {
			return nil, fmt.Errorf("failed to encode PKCS#12 bundle: %w", err)
		}
		a.files = append(a.files, outputFile{path: cmd.PKCS12, data: pfx, perm: 0600})
	}

	if cmd.JKS != "" {
		jks, err := c.JKS(cmd.JKSPassword, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to encode Java keystore: %w", err)
		}
		a.files = append(a.files, outputFile{path: cmd.JKS, data: jks, perm: 0600})
	}

	return a, nil
}

func (cmd *GenerateCmd) renderOutDir(c *chain.Chain, a *artifacts) error {
	identities := []struct {
		prefix string
		id     chain.Identity
	}{
		{"root", c.TrustAnchor},
		{"ca", c.CA},
		{"ee", c.EndEntity},
	}

	for _, ident := range identities {
		cert, err := pki.EncodeCertificatePEM(ident.id.Certificate)
		if err != nil {
			return err
		}
		a.files = append(a.files, outputFile{
			path: filepath.Join(cmd.OutDir, ident.prefix+"-cert.pem"),
			data: cert,
			perm: 0644,
		})

		// an existing trust anchor key is never copied
		if ident.id.Role == store.RoleTrustAnchor && cmd.RootKey != "" {
			continue
		}

		key, err := pki.EncodePrivateKeyPEM(ident.id.Key)
		if err != nil {
			return err
		}
		a.files = append(a.files, outputFile{
			path: filepath.Join(cmd.OutDir, ident.prefix+"-key.pem"),
			data: key,
			perm: 0600,
		})
	}

	msg, err := c.Message()
	if err != nil {
		return err
	}
	p7, err := pki.EncodeManagementMessagePEM(msg)
	if err != nil {
		return err
	}
	a.files = append(a.files, outputFile{path: filepath.Join(cmd.OutDir, "chain.p7b"), data: p7, perm: 0644})

	return nil
}

func (a *artifacts) write(globals *Globals) error {
	for _, f := range a.files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := writeFile(nil, f.path, f.data, f.perm); err != nil {
			return err
		}
	}

	return writeFile(globals.stdout(), a.output.path, a.output.data, a.output.perm)
}

func (cmd *GenerateCmd) printSummary(globals *Globals, c *chain.Chain, a *artifacts) {
	w := globals.stderr()

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "Certificate Chain Generated")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "\nChain ID: %s\n\n", c.ID)

	for _, id := range []chain.Identity{c.TrustAnchor, c.CA, c.EndEntity} {
		fmt.Fprintf(w, "  %-14s %s\n", id.Role+":", id.Certificate.SubjectString())
		fmt.Fprintf(w, "  %-14s %s\n", "", id.Certificate.Fingerprint())
	}

	if len(a.files) > 0 {
		fmt.Fprintln(w, "\nFiles written:")
		for _, f := range a.files {
			fmt.Fprintf(w, "  %s\n", f.path)
		}
	}
	if cmd.Ledger != "" {
		fmt.Fprintf(w, "\nLedger: %s\n", cmd.Ledger)
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
}
