package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aspect-build/sealrun/internal/version"
)

// Config holds simulator configuration loaded from environment variables.
type Config struct {
	UntrustedAddr string
	AttestedAddr  string
	DBPath        string
	ServerName    string

	// MaxModelStore bounds the number of stored models; the oldest are
	// evicted first. Zero disables the bound.
	MaxModelStore int
	// MaxModelSize bounds an uploaded model in bytes.
	MaxModelSize uint64

	EnclaveCertFile string
	EnclaveKeyFile  string
	HostCertFile    string
	HostKeyFile     string
	// HostCertOut receives the discovery certificate so clients can pin it.
	HostCertOut string

	// ReportedVersion is what server-info answers.
	ReportedVersion string

	// Hardware serves a quote instead of the raw enclave certificate.
	Hardware       bool
	DstackEndpoint string
}

const (
	defaultMaxModelStore = 5
	defaultMaxModelSize  = 1 << 30
)

// LoadConfig loads simulator configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		UntrustedAddr:   envOr("SEALRUN_SIM_UNTRUSTED_ADDR", ":50052"),
		AttestedAddr:    envOr("SEALRUN_SIM_ATTESTED_ADDR", ":50051"),
		DBPath:          envOr("SEALRUN_SIM_DB_PATH", "sealrun-sim.db"),
		ServerName:      envOr("SEALRUN_SIM_SERVER_NAME", "sealrun-srv"),
		MaxModelStore:   defaultMaxModelStore,
		MaxModelSize:    defaultMaxModelSize,
		EnclaveCertFile: os.Getenv("SEALRUN_SIM_ENCLAVE_CERT"),
		EnclaveKeyFile:  os.Getenv("SEALRUN_SIM_ENCLAVE_KEY"),
		HostCertFile:    os.Getenv("SEALRUN_SIM_HOST_CERT"),
		HostKeyFile:     os.Getenv("SEALRUN_SIM_HOST_KEY"),
		HostCertOut:     os.Getenv("SEALRUN_SIM_HOST_CERT_OUT"),
		ReportedVersion: envOr("SEALRUN_SIM_REPORTED_VERSION", version.ProtocolVersion),
		DstackEndpoint:  os.Getenv("SEALRUN_SIM_DSTACK_ENDPOINT"),
	}

	if v := os.Getenv("SEALRUN_SIM_MAX_MODEL_STORE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("SEALRUN_SIM_MAX_MODEL_STORE must be a non-negative integer")
		}
		cfg.MaxModelStore = n
	}
	if v := os.Getenv("SEALRUN_SIM_MAX_MODEL_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("SEALRUN_SIM_MAX_MODEL_SIZE must be a positive integer")
		}
		cfg.MaxModelSize = n
	}

	if v := strings.TrimSpace(strings.ToLower(os.Getenv("SEALRUN_SIM_HARDWARE"))); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			cfg.Hardware = true
		case "0", "false", "no", "off":
			cfg.Hardware = false
		default:
			return nil, fmt.Errorf("SEALRUN_SIM_HARDWARE must be one of true/false/1/0/yes/no/on/off")
		}
	}

	if (cfg.EnclaveCertFile == "") != (cfg.EnclaveKeyFile == "") {
		return nil, fmt.Errorf("SEALRUN_SIM_ENCLAVE_CERT and SEALRUN_SIM_ENCLAVE_KEY must be set together")
	}
	if (cfg.HostCertFile == "") != (cfg.HostKeyFile == "") {
		return nil, fmt.Errorf("SEALRUN_SIM_HOST_CERT and SEALRUN_SIM_HOST_KEY must be set together")
	}
	if cfg.Hardware && cfg.EnclaveCertFile == "" {
		return nil, fmt.Errorf("SEALRUN_SIM_HARDWARE requires SEALRUN_SIM_ENCLAVE_CERT and SEALRUN_SIM_ENCLAVE_KEY")
	}
	if cfg.UntrustedAddr == cfg.AttestedAddr {
		return nil, fmt.Errorf("untrusted and attested addresses must differ")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
