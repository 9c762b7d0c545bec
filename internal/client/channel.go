package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/wire"
)

// maxReplyBytes bounds a single reply body.
const maxReplyBytes = 256 << 20

// channel is one TLS endpoint with its own transport. Channels are never
// shared between sessions.
type channel struct {
	baseURL string
	client  *http.Client
	tr      *http.Transport

	closeOnce sync.Once
}

func newChannel(hostport string, tlsCfg *tls.Config, timeout time.Duration) *channel {
	dialTimeout := timeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: dialTimeout,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &channel{
		baseURL: "https://" + hostport,
		client:  &http.Client{Transport: tr, Timeout: timeout},
		tr:      tr,
	}
}

// openDiscovery opens the untrusted channel. With a pinned certificate the
// server must present it (or a chain to it) for serverName; otherwise the
// server certificate is not checked at all.
func openDiscovery(hostport string, pinned *x509.Certificate, serverName string, timeout time.Duration) *channel {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if pinned != nil {
		pool := x509.NewCertPool()
		pool.AddCert(pinned)
		cfg.RootCAs = pool
		cfg.ServerName = serverName
	} else {
		cfg.InsecureSkipVerify = true // #nosec G402 -- discovery is untrusted; trust comes from attestation
	}
	return newChannel(hostport, cfg, timeout)
}

// openAttested opens the data channel. The enclave certificate is the only
// trust root and serverName must match it.
func openAttested(hostport string, enclaveCert *x509.Certificate, serverName string) *channel {
	pool := x509.NewCertPool()
	pool.AddCert(enclaveCert)
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
		ServerName: serverName,
	}
	return newChannel(hostport, cfg, 0)
}

func (c *channel) close() {
	c.closeOnce.Do(func() {
		c.tr.CloseIdleConnections()
	})
}

func (c *channel) getJSON(ctx context.Context, phase, path string, out any) error {
	return c.do(ctx, phase, http.MethodGet, path, "", nil, out)
}

// do runs one call. Transport failures and non-2xx replies come back as
// connection errors tagged with phase.
func (c *channel) do(ctx context.Context, phase, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return trusterr.Config(phase, err, "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(phase, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return transportError(phase, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return trusterr.Connection(phase, trusterr.CauseProtocol, nil,
			"server returned %d: %s", resp.StatusCode, replyMessage(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return trusterr.Connection(phase, trusterr.CauseProtocol, err, "decode %s reply", path)
	}
	return nil
}

func replyMessage(data []byte) string {
	var er wire.ErrorReply
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return er.Error
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return fmt.Sprintf("%q", s)
}
