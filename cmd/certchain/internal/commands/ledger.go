package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wolfeidau/certchain/internal/store"
)

// LedgerCmd groups the ledger queries
type LedgerCmd struct {
	List LedgerListCmd `cmd:"" help:"List recorded certificates"`
	Path LedgerPathCmd `cmd:"" help:"Show a certificate and its issuers up to the trust anchor"`
}

type LedgerListCmd struct {
	Ledger string `help:"YAML ledger file" default:"certchain-ledger.yaml"`
	Chain  string `help:"Chain ID to filter by" default:""`
	Role   string `help:"Role to filter by (trust-anchor, ca, end-entity)" default:""`
	Limit  int    `help:"Maximum number of certificates to show (0 for all)" default:"0"`
}

// Run executes the ledger list command
func (l *LedgerListCmd) Run(ctx context.Context, globals *Globals) error {
	role, err := parseRole(l.Role)
	if err != nil {
		return err
	}

	ledger, err := store.OpenFileCertificateStore(l.Ledger)
	if err != nil {
		return err
	}

	certs, err := ledger.List(ctx, store.ListCertificatesOptions{ChainID: l.Chain, Role: role, Limit: l.Limit})
	if err != nil {
		return fmt.Errorf("failed to list certificates: %w", err)
	}

	printCertificates(globals.stdout(), certs)
	return nil
}

type LedgerPathCmd struct {
	Ledger      string `help:"YAML ledger file" default:"certchain-ledger.yaml"`
	Fingerprint string `arg:"" help:"Base58 fingerprint of the certificate"`
}

// Run executes the ledger path command
func (l *LedgerPathCmd) Run(ctx context.Context, globals *Globals) error {
	ledger, err := store.OpenFileCertificateStore(l.Ledger)
	if err != nil {
		return err
	}

	path, err := ledger.Path(ctx, l.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to resolve path for %s: %w", l.Fingerprint, err)
	}

	printCertificates(globals.stdout(), path)
	return nil
}

func parseRole(s string) (store.Role, error) {
	switch r := store.Role(strings.ToLower(s)); r {
	case "", store.RoleTrustAnchor, store.RoleCA, store.RoleEndEntity:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q, expected trust-anchor, ca or end-entity", s)
	}
}

func printCertificates(w io.Writer, certs []*store.CertMetadata) {
	if len(certs) == 0 {
		fmt.Fprintln(w, "No certificates found.")
		return
	}

	fmt.Fprintf(w, "%-46s %-12s %-34s %-36s %-20s %s\n",
		"Fingerprint", "Role", "Serial", "Chain ID", "Not After", "Subject")
	fmt.Fprintln(w, strings.Repeat("─", 180))

	for _, c := range certs {
		fmt.Fprintf(w, "%-46s %-12s %-34s %-36s %-20s %s\n",
			c.Fingerprint, c.Role, c.SerialNumber, c.ChainID, c.NotAfter.Format(time.DateTime), c.SubjectDN)
	}
}
