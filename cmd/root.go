// Package cmd wires the proxy's subcommands into a cobra command tree. It
// is the ambient CLI layer: flag parsing, usage text, and exit codes live
// here, while all proxy behavior lives in internal/.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// Execute builds and runs the root command, returning the process exit code.
func Execute() int {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "interceptproxy",
		Short:         "An HTTPS-intercepting MITM forward proxy",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}
	root.SetVersionTemplate(fmt.Sprintf("interceptproxy %s\n", version))

	root.AddCommand(newRunCommand())
	root.AddCommand(newMintCertCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stdout, "interceptproxy %s\n", version)
			return nil
		},
	}
}
