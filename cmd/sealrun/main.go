package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aspect-build/sealrun/internal/client"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/version"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

// connFlags are shared by every command that talks to an enclave.
type connFlags struct {
	addr            string
	policy          string
	certificate     string
	serverName      string
	simulation      bool
	untrustedPort   int
	attestedPort    int
	timeout         time.Duration
	allowedVersions []string
	chunkSize       int
}

func (f *connFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "Enclave host, without port (or set SEALRUN_ADDR)")
	fl.StringVar(&f.policy, "policy", "", "Attestation policy file, .toml or .yaml (or set SEALRUN_POLICY)")
	fl.StringVar(&f.certificate, "certificate", "", "PEM certificate pinning the discovery port (or set SEALRUN_CERTIFICATE)")
	fl.StringVar(&f.serverName, "server-name", client.DefaultServerName, "TLS server name of the enclave")
	fl.BoolVar(&f.simulation, "simulation", false, "Trust the enclave certificate without attestation (development only)")
	fl.IntVar(&f.untrustedPort, "untrusted-port", client.DefaultUntrustedPort, "Discovery port")
	fl.IntVar(&f.attestedPort, "attested-port", client.DefaultAttestedPort, "Attested port")
	fl.DurationVar(&f.timeout, "timeout", client.DefaultConnectTimeout, "Bound on the discovery phase")
	fl.StringSliceVar(&f.allowedVersions, "allow-version", nil, "Accept exactly these server versions instead of the default major.minor match")
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "Maximum bytes per streamed message (default 32 KiB)")
}

// resolve returns the flag value, or the env var with a warning when the
// flag was not given.
func resolve(cmd *cobra.Command, flag, value, env string) string {
	if cmd.Flags().Changed(flag) {
		return value
	}
	if v := os.Getenv(env); v != "" {
		fmt.Fprintf(os.Stderr, "sealrun: WARNING: using %s from %s environment variable\n", flag, env)
		return v
	}
	return value
}

func (f *connFlags) config(cmd *cobra.Command) (client.Config, error) {
	cfg := client.Config{
		Addr:            resolve(cmd, "addr", f.addr, "SEALRUN_ADDR"),
		PolicyFile:      resolve(cmd, "policy", f.policy, "SEALRUN_POLICY"),
		CertificateFile: resolve(cmd, "certificate", f.certificate, "SEALRUN_CERTIFICATE"),
		ServerName:      f.serverName,
		Simulation:      f.simulation,
		UntrustedPort:   f.untrustedPort,
		AttestedPort:    f.attestedPort,
		ConnectTimeout:  f.timeout,
		AllowedVersions: f.allowedVersions,
		ChunkSize:       f.chunkSize,
	}
	if cfg.Addr == "" {
		return client.Config{}, trusterr.Config("config", nil, "enclave address required: use --addr or set SEALRUN_ADDR")
	}
	return cfg, nil
}

func (f *connFlags) connect(cmd *cobra.Command) (*client.Session, error) {
	cfg, err := f.config(cmd)
	if err != nil {
		return nil, err
	}
	return client.Connect(cmd.Context(), cfg)
}

var (
	okMark   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
)

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		verbose  bool
	)
	rootCmd := &cobra.Command{
		Use:           "sealrun",
		Short:         "sealrun - attested model upload and inference against an enclave",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logx.Configure(logLevel, verbose); err != nil {
				return trusterr.Config("config", err, "configure logging")
			}
			return nil
		},
	}
	rootCmd.SetVersionTemplate(version.String("sealrun") + "\n")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (or SEALRUN_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose debug logs (same as --log-level debug)")

	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newVerifyCmd())
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", failMark("error:"), err)
	var te *trusterr.Error
	if !errors.As(err, &te) {
		// cobra usage errors
		os.Exit(trusterr.ExitConfig)
	}
	os.Exit(trusterr.ExitCode(err))
}
