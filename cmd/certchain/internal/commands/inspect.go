package commands

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wolfeidau/certchain/internal/pki"
)

// InspectCmd prints what each PEM block in a file contains
type InspectCmd struct {
	File string `arg:"" help:"PEM file to inspect (- for stdin)" default:"-"`
}

// Run executes the inspect command
func (cmd *InspectCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := readInput(cmd.File)
	if err != nil {
		return err
	}

	w := globals.stdout()
	found := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		found++

		fmt.Fprintf(w, "[%d] %s\n", found, block.Type)
		if err := describeBlock(w, block); err != nil {
			return fmt.Errorf("block %d (%s): %w", found, block.Type, err)
		}
		fmt.Fprintln(w)
	}

	if found == 0 {
		return fmt.Errorf("%w: no PEM blocks found in %s", pki.ErrEncoding, cmd.File)
	}

	return nil
}

func describeBlock(w io.Writer, block *pem.Block) error {
	switch block.Type {
	case pki.PEMTypeCertificate:
		cert, err := pki.ParseCertificate(block.Bytes)
		if err != nil {
			return err
		}
		describeCertificate(w, cert, "  ")

	case pki.PEMTypePKCS7:
		msg, err := pki.ParseManagementMessage(block.Bytes)
		if err != nil {
			return err
		}
		certs := msg.Certificates()
		fmt.Fprintf(w, "  Certificates: %d\n", len(certs))
		for i, cert := range certs {
			fmt.Fprintf(w, "  Certificate %d:\n", i+1)
			describeCertificate(w, cert, "    ")
		}

	case pki.PEMTypePrivateKey:
		kp, err := pki.DecodePrivateKeyPEM(pem.EncodeToMemory(block))
		if err != nil {
			return err
		}
		keyID, err := pki.SubjectKeyID(kp.VerificationKey())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-18s %s %d\n", "Algorithm:", kp.Algorithm(), kp.Size())
		fmt.Fprintf(w, "  %-18s %s\n", "Key ID:", hex.EncodeToString(keyID))

	default:
		fmt.Fprintln(w, "  (unsupported block type, skipped)")
	}

	return nil
}

func describeCertificate(w io.Writer, cert *pki.Certificate, indent string) {
	field := func(name, value string) {
		fmt.Fprintf(w, "%s%-18s %s\n", indent, name+":", value)
	}

	field("Subject", cert.SubjectString())
	field("Issuer", cert.IssuerString())
	field("Serial", cert.SerialNumber().Text(16))
	field("Not Before", cert.NotBefore().Format(time.RFC3339))
	field("Not After", cert.NotAfter().Format(time.RFC3339))
	field("CA", fmt.Sprintf("%t", cert.IsCA()))
	field("Signature", cert.SignatureAlgorithmName())
	if ku := keyUsageNames(cert.X509().KeyUsage); ku != "" {
		field("Key Usage", ku)
	}
	if ski := cert.SubjectKeyID(); len(ski) > 0 {
		field("Subject Key ID", hex.EncodeToString(ski))
	}
	if aki := cert.AuthorityKeyID(); len(aki) > 0 {
		field("Authority Key ID", hex.EncodeToString(aki))
	}
	if names := altNames(pki.ExtractSubjectAltNames(cert.X509())); names != "" {
		field("Subject Alt Names", names)
	}
	if names := altNames(pki.ExtractIssuerAltNames(cert.X509())); names != "" {
		field("Issuer Alt Names", names)
	}
	field("Fingerprint", cert.Fingerprint())
}

func keyUsageNames(ku x509.KeyUsage) string {
	return pki.KeyUsage(ku).String()
}

func altNames(names []pki.GeneralName, err error) string {
	if errors.Is(err, pki.ErrExtensionNotFound) {
		return ""
	}
	if err != nil {
		return fmt.Sprintf("(unparseable: %v)", err)
	}

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n.Kind().String()+":"+n.String())
	}
	return strings.Join(parts, ", ")
}
