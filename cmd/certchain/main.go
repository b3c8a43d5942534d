package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/certchain/cmd/certchain/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Generate commands.GenerateCmd `cmd:"" help:"Generate a trust anchor, CA and end entity certificate chain"`
		Inspect  commands.InspectCmd  `cmd:"" help:"Describe the PEM blocks in a file"`
		Ledger   commands.LedgerCmd   `cmd:"" help:"Query the issuance ledger"`
		Debug    bool                 `help:"Enable debug mode."`
		Version  kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("certchain"),
		kong.Description("Build X.509 certificate chains."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Stdout: os.Stdout, Stderr: os.Stderr})
	cmd.FatalIfErrorf(err)
}
