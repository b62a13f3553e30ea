package cmd

import (
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayfox/interceptproxy/internal/certs"
)

func newMintCertCommand() *cobra.Command {
	var certPath, keyPath string

	cmd := &cobra.Command{
		Use:   "mint-cert <hostname>",
		Short: "Mint a leaf certificate for hostname and print it as PEM",
		Long: `Mint-cert loads the configured CA and signs a single leaf certificate
for hostname, the same way the proxy does for an intercepted connection,
then prints it to stdout in PEM form. It opens no network tunnel and
persists nothing; it exists so operators can verify a CA's trust chain
without driving traffic through the proxy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname := args[0]

			authority, err := certs.Load(certPath, keyPath)
			if err != nil {
				return fmt.Errorf("loading CA material: %w", err)
			}

			minter := certs.NewMinter(authority, time.Now())
			leaf, err := minter.Leaf(hostname)
			if err != nil {
				return fmt.Errorf("minting leaf certificate for %q: %w", hostname, err)
			}

			return pem.Encode(os.Stdout, &pem.Block{
				Type:  "CERTIFICATE",
				Bytes: leaf.Certificate[0],
			})
		},
	}

	cmd.Flags().StringVar(&certPath, "ca-cert", "", "path to the CA certificate PEM file")
	cmd.Flags().StringVar(&keyPath, "ca-key", "", "path to the CA private key PEM file")
	_ = cmd.MarkFlagRequired("ca-cert")
	_ = cmd.MarkFlagRequired("ca-key")

	return cmd
}
