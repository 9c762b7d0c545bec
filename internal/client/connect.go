// Package client bootstraps an attested channel to a sealrun enclave and
// runs model operations over it.
//
// Connect talks to the enclave in two phases. The discovery channel (not
// trusted) reports the server version and hands out either attestation
// evidence or, in simulation mode, the enclave certificate. The data channel
// is then opened with the attested enclave certificate as its only trust
// root, and every signed reply is checked against the key of that
// certificate.
package client

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"time"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/policy"
	"github.com/aspect-build/sealrun/internal/proof"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/version"
	"github.com/aspect-build/sealrun/internal/wire"
)

const (
	DefaultServerName     = "sealrun-srv"
	DefaultUntrustedPort  = 50052
	DefaultAttestedPort   = 50051
	DefaultConnectTimeout = 10 * time.Second
)

// Config describes how to reach and trust an enclave.
type Config struct {
	Addr string
	// ServerName is checked against the enclave certificate on the data
	// channel, and against CertificateFile on the discovery channel.
	ServerName string

	// Policy (or PolicyFile) is required unless Simulation is set.
	Policy     *policy.Policy
	PolicyFile string
	// CertificateFile pins the discovery channel to a PEM certificate.
	CertificateFile string
	// Simulation skips hardware attestation and trusts the certificate the
	// server hands out. Only for development.
	Simulation bool

	UntrustedPort  int
	AttestedPort   int
	ConnectTimeout time.Duration

	// Verifier checks quotes; nil means the RA-TLS verifier.
	Verifier attestation.Verifier
	// AllowedVersions replaces the default major.minor version check.
	AllowedVersions []string
	// ChunkSize bounds streamed message payloads; 0 means the default.
	ChunkSize int
}

func (c Config) withDefaults() Config {
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.UntrustedPort == 0 {
		c.UntrustedPort = DefaultUntrustedPort
	}
	if c.AttestedPort == 0 {
		c.AttestedPort = DefaultAttestedPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = tensor.DefaultChunkSize
	}
	return c
}

// Connect runs the bootstrap and returns an open session. On failure every
// channel it opened is closed.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	addr, err := ParseAddr(cfg.Addr)
	if err != nil {
		return nil, trusterr.Config("config", err, "invalid address")
	}
	pol := cfg.Policy
	if !cfg.Simulation && pol == nil {
		if cfg.PolicyFile == "" {
			return nil, trusterr.Config("config", nil, "a policy is required unless simulation mode is enabled")
		}
		if pol, err = policy.Load(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}
	var pinned *x509.Certificate
	if cfg.CertificateFile != "" {
		data, err := os.ReadFile(filepath.Clean(cfg.CertificateFile))
		if err != nil {
			return nil, trusterr.Config("config", err, "read certificate file %s", cfg.CertificateFile)
		}
		if pinned, err = attestation.ParseCertificatePEM(data); err != nil {
			return nil, trusterr.Config("config", err, "load certificate file %s", cfg.CertificateFile)
		}
	}

	b := &bootstrap{cfg: cfg, addr: addr, policy: pol, pinned: pinned}
	return b.run(ctx)
}

type bootstrap struct {
	cfg    Config
	addr   Addr
	policy *policy.Policy
	pinned *x509.Certificate
}

type discovered struct {
	version  string
	cert     *x509.Certificate
	key      *attestation.SigningKey
	evidence *attestation.Evidence
}

func (b *bootstrap) run(ctx context.Context) (*Session, error) {
	d, err := b.discover(ctx)
	if err != nil {
		return nil, err
	}

	att := openAttested(b.addr.HostPort(b.cfg.AttestedPort), d.cert, b.cfg.ServerName)
	if err := att.getJSON(ctx, "attested-channel", wire.PathHealth, nil); err != nil {
		att.close()
		return nil, err
	}
	logx.Infof("connected to %s (server version %s, simulation=%v)", b.addr.Host, d.version, b.cfg.Simulation)

	return &Session{
		ch:            att,
		key:           d.key,
		evidence:      d.evidence,
		policy:        b.policy,
		simulation:    b.cfg.Simulation,
		serverVersion: d.version,
		info:          CollectClientInfo(),
		codec:         tensor.Codec{ChunkSize: b.cfg.ChunkSize},
	}, nil
}

// discover runs the untrusted phase under the connect timeout. The discovery
// channel is closed before it returns.
func (b *bootstrap) discover(ctx context.Context) (*discovered, error) {
	dctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	disc := openDiscovery(b.addr.HostPort(b.cfg.UntrustedPort), b.pinned, b.cfg.ServerName, b.cfg.ConnectTimeout)
	defer disc.close()

	var info wire.ServerInfo
	if err := disc.getJSON(dctx, "server-info", wire.PathServerInfo, &info); err != nil {
		return nil, err
	}
	if !version.Supported(info.Version, b.cfg.AllowedVersions) {
		if len(b.cfg.AllowedVersions) > 0 {
			return nil, trusterr.Version("server-info", "server version %q not in allowed %v", info.Version, b.cfg.AllowedVersions)
		}
		return nil, trusterr.Version("server-info", "server version %q is incompatible with client protocol %s", info.Version, version.ProtocolVersion)
	}

	d := &discovered{version: info.Version}
	if b.cfg.Simulation {
		logx.Warnf("simulation mode: the enclave is NOT attested; responses cannot be tied to enclave hardware")
		var cr wire.CertificateReply
		if err := disc.getJSON(dctx, "certificate", wire.PathCertificate, &cr); err != nil {
			return nil, err
		}
		cert, err := x509.ParseCertificate(cr.EnclaveTLSCertificate)
		if err != nil {
			return nil, trusterr.Attestation("certificate", err, "parse enclave certificate")
		}
		key, err := attestation.SigningKeyFromCertificate(cert)
		if err != nil {
			return nil, trusterr.Attestation("certificate", err, "derive enclave signing key")
		}
		d.cert, d.key = cert, key
		return d, nil
	}

	var qr wire.QuoteReply
	if err := disc.getJSON(dctx, "quote", wire.PathQuote, &qr); err != nil {
		return nil, err
	}
	key, claims, err := proof.AttestKey(dctx, b.cfg.Verifier, qr.Evidence, b.policy)
	if err != nil {
		return nil, err
	}
	cert, err := attestation.ParseCertificatePEM(claims.ServerCertPEM)
	if err != nil {
		return nil, trusterr.Attestation("attestation", err, "parse attested certificate")
	}
	logx.Debugf("attestation ok: measurement=%x signer=%x app_id=%q tcb=%s key=%s",
		claims.Measurement, claims.Signer, claims.AppID, claims.TCBStatus, key.Fingerprint())
	d.cert, d.key, d.evidence = cert, key, qr.Evidence.Clone()
	return d, nil
}
