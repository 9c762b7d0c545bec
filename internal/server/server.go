// Package server is a simulated sealrun enclave. It serves the untrusted
// discovery port and the attested model port over TLS, stores models in
// SQLite, and signs replies with the enclave certificate's key.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/logx"
	"github.com/aspect-build/sealrun/internal/server/db"
	"github.com/aspect-build/sealrun/internal/server/enclave"
	"github.com/aspect-build/sealrun/internal/server/handler"
)

const (
	identityLifetime = 365 * 24 * time.Hour
	shutdownTimeout  = 5 * time.Second
)

// Server owns both listeners' handlers and the enclave identity.
type Server struct {
	cfg       *Config
	store     *db.Store
	enclaveID *enclave.Identity
	hostID    *enclave.Identity
	untrusted *gin.Engine
	attested  *gin.Engine
}

// New prepares a server. In hardware mode a nil collector defaults to the
// dstack guest agent.
func New(cfg *Config, store *db.Store, collector attestation.Collector) (*Server, error) {
	enclaveID, err := loadOrGenerate(cfg.EnclaveCertFile, cfg.EnclaveKeyFile, cfg.ServerName, enclave.GenerateIdentity)
	if err != nil {
		return nil, fmt.Errorf("enclave identity: %w", err)
	}
	hostID, err := loadOrGenerate(cfg.HostCertFile, cfg.HostKeyFile, cfg.ServerName, enclave.GenerateHostIdentity)
	if err != nil {
		return nil, fmt.Errorf("host identity: %w", err)
	}
	if cfg.HostCertOut != "" {
		if err := hostID.WriteCertPEM(cfg.HostCertOut); err != nil {
			return nil, err
		}
	}
	sealing, err := enclaveID.SealingKey()
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}

	n, err := store.PurgeUnsealed()
	if err != nil {
		return nil, fmt.Errorf("purge unsealed models: %w", err)
	}
	if n > 0 {
		logx.Infof("dropped %d unsealed models from a previous run", n)
	}

	if cfg.Hardware && collector == nil {
		collector = attestation.NewDstackCollector(cfg.DstackEndpoint)
	}
	if !cfg.Hardware {
		collector = nil
	}

	e := &handler.Enclave{
		Store:        store,
		Identity:     enclaveID,
		Sealing:      sealing,
		MaxModels:    cfg.MaxModelStore,
		MaxModelSize: cfg.MaxModelSize,
	}
	enclavePEM := attestation.EncodeCertificatePEM(enclaveID.Cert.Raw)
	return &Server{
		cfg:       cfg,
		store:     store,
		enclaveID: enclaveID,
		hostID:    hostID,
		untrusted: NewDiscoveryRouter(cfg, collector, enclaveID.Cert.Raw, enclavePEM),
		attested:  NewAttestedRouter(cfg, e),
	}, nil
}

func loadOrGenerate(certFile, keyFile, serverName string, gen func(string, time.Duration) (*enclave.Identity, error)) (*enclave.Identity, error) {
	if certFile != "" {
		return enclave.LoadIdentity(certFile, keyFile)
	}
	return gen(serverName, identityLifetime)
}

// EnclaveCertificate is the certificate of the attested port.
func (s *Server) EnclaveCertificate() *x509.Certificate { return s.enclaveID.Cert }

// HostCertificate is the certificate of the discovery port.
func (s *Server) HostCertificate() *x509.Certificate { return s.hostID.Cert }

// Serve serves the discovery engine on untrusted and the model engine on
// attested until ctx is done or either server fails. Both listeners are
// wrapped in TLS here.
func (s *Server) Serve(ctx context.Context, untrusted, attested net.Listener) error {
	servers := []struct {
		name string
		ln   net.Listener
		srv  *http.Server
	}{
		{"untrusted", tls.NewListener(untrusted, tlsConfig(s.hostID)), &http.Server{Handler: s.untrusted, ReadHeaderTimeout: 10 * time.Second}},
		{"attested", tls.NewListener(attested, tlsConfig(s.enclaveID)), &http.Server{Handler: s.attested, ReadHeaderTimeout: 10 * time.Second}},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sv := range servers {
		g.Go(func() error {
			logx.Infof("%s port listening on %s", sv.name, sv.ln.Addr())
			if err := sv.srv.Serve(sv.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", sv.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, sv := range servers {
			if err := sv.srv.Shutdown(sctx); err != nil {
				logx.Warnf("%s shutdown: %v", sv.name, err)
			}
		}
		return nil
	})
	return g.Wait()
}

// ListenAndServe listens on the configured addresses and serves.
func (s *Server) ListenAndServe(ctx context.Context) error {
	untrusted, err := net.Listen("tcp", s.cfg.UntrustedAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.UntrustedAddr, err)
	}
	attested, err := net.Listen("tcp", s.cfg.AttestedAddr)
	if err != nil {
		untrusted.Close()
		return fmt.Errorf("listen %s: %w", s.cfg.AttestedAddr, err)
	}
	return s.Serve(ctx, untrusted, attested)
}

func tlsConfig(id *enclave.Identity) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.TLS},
		MinVersion:   tls.VersionTLS12,
	}
}
