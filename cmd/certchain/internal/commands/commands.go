package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/certchain/internal/pki"
)

type Globals struct {
	Debug   bool
	Version string

	// Stdout receives PEM and reports, Stderr receives summaries and logs.
	Stdout io.Writer
	Stderr io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

func (g *Globals) stderr() io.Writer {
	if g == nil || g.Stderr == nil {
		return os.Stderr
	}
	return g.Stderr
}

// registerProvider installs the standard crypto provider once per process.
// A provider that fails its self test is fatal since nothing can be issued.
func registerProvider() (pki.Provider, error) {
	provider := pki.NewStdProvider()
	if err := provider.SelfTest(); err != nil {
		return nil, fmt.Errorf("crypto provider %s failed self test: %w", provider.Name(), err)
	}

	if err := pki.RegisterProvider(provider); err != nil && !errors.Is(err, pki.ErrProviderAlreadyRegistered) {
		return nil, fmt.Errorf("failed to register crypto provider: %w", err)
	}

	return pki.RegisteredProvider()
}

// writeFile writes data to path, or to w when path is empty or "-".
func writeFile(w io.Writer, path string, data []byte, perm os.FileMode) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
