//go:build dev

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aspect-build/sealrun/internal/server/enclave"
)

func init() {
	devCommands = append(devCommands, newKeygenCmd())
}

func newKeygenCmd() *cobra.Command {
	var (
		serverName string
		certOut    string
		keyOut     string
		validFor   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "[dev] Generate an enclave certificate and key for sealrun-sim",
		Long: `Generate a self-signed Ed25519 enclave certificate and its private key.
Point SEALRUN_SIM_ENCLAVE_CERT and SEALRUN_SIM_ENCLAVE_KEY at the output so the
simulator keeps the same identity across restarts, and pass the certificate to
"sealrun verify --enclave-cert" to check simulation proofs.

NOTE: This command is only available in dev builds (go build -tags dev).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := enclave.GenerateIdentity(serverName, validFor)
			if err != nil {
				return err
			}
			if err := id.WriteCertPEM(certOut); err != nil {
				return err
			}
			if err := id.WriteKeyPEM(keyOut); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "certificate=%s\nkey=%s\n", certOut, keyOut)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverName, "server-name", "sealrun-srv", "DNS name in the certificate")
	cmd.Flags().StringVar(&certOut, "cert-out", "enclave.pem", "Output path for the certificate")
	cmd.Flags().StringVar(&keyOut, "key-out", "enclave.key", "Output path for the private key")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "Certificate lifetime")

	return cmd
}
