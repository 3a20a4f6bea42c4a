// Command facturactl is the operator CLI: issuer registration, chain
// verification, submission maintenance, and API token minting. It talks to
// the same Postgres database as the server, so commands work even when the
// service is down.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "facturactl",
	Short:        "Operator tooling for the facturador billing service",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "facturactl: %v\n", err)
		os.Exit(1)
	}
}
