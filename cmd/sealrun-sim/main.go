package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/server"
	"github.com/aspect-build/sealrun/internal/server/db"
	"github.com/aspect-build/sealrun/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or SEALRUN_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("sealrun-sim"))
		fmt.Fprintf(os.Stderr, "sealrun-sim is a development enclave: it speaks the sealrun protocol, signs\n")
		fmt.Fprintf(os.Stderr, "its replies and echoes run inputs instead of executing models.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_UNTRUSTED_ADDR    Discovery listen address (default: :50052)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_ATTESTED_ADDR     Attested listen address (default: :50051)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_DB_PATH           SQLite model store (default: sealrun-sim.db)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_SERVER_NAME       TLS server name (default: sealrun-srv)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_MAX_MODEL_STORE   Models kept before the oldest is evicted (default: 5, 0 = unbounded)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_MAX_MODEL_SIZE    Largest accepted model in bytes (default: 1 GiB)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_ENCLAVE_CERT/KEY  Enclave identity PEM files (default: generated)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_HOST_CERT/KEY     Discovery identity PEM files (default: generated)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_HOST_CERT_OUT     Write the discovery certificate here for pinning\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_REPORTED_VERSION  Version answered on server-info (default: %s)\n", version.ProtocolVersion)
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_HARDWARE          Serve a dstack quote instead of the certificate (default: false)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_SIM_DSTACK_ENDPOINT   dstack guest agent endpoint (default: SDK default)\n")
		fmt.Fprintf(os.Stderr, "  SEALRUN_LOG_LEVEL             Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("sealrun-sim"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	srv, err := server.New(cfg, store, nil)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	logx.Infof("server config: hardware=%v server_name=%s reported_version=%s max_models=%d",
		cfg.Hardware, cfg.ServerName, cfg.ReportedVersion, cfg.MaxModelStore)
	if !cfg.Hardware {
		logx.Warnf("simulation mode: the enclave certificate is served without attestation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
