package internal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/client"
	"github.com/aspect-build/sealrun/internal/policy"
	"github.com/aspect-build/sealrun/internal/proof"
	"github.com/aspect-build/sealrun/internal/server"
	"github.com/aspect-build/sealrun/internal/server/db"
	"github.com/aspect-build/sealrun/internal/server/enclave"
	"github.com/aspect-build/sealrun/internal/tensor"
	"github.com/aspect-build/sealrun/internal/trusterr"
	"github.com/aspect-build/sealrun/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// simEnv is a running simulator on loopback ports.
type simEnv struct {
	srv           *server.Server
	store         *db.Store
	untrustedPort int
	attestedPort  int
	attestedConns *atomic.Int64
	cancel        context.CancelFunc
	done          chan error
}

// countingListener counts accepted connections.
type countingListener struct {
	net.Listener
	n *atomic.Int64
}

func (l countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.n.Add(1)
	}
	return c, err
}

func testSimConfig() *server.Config {
	return &server.Config{
		DBPath:          ":memory:",
		ServerName:      client.DefaultServerName,
		MaxModelStore:   5,
		MaxModelSize:    1 << 20,
		ReportedVersion: version.ProtocolVersion,
	}
}

func startSim(cfg *server.Config, collector attestation.Collector) (*simEnv, error) {
	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("NewStore: %w", err)
	}
	srv, err := server.New(cfg, store, collector)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("server.New: %w", err)
	}
	untrusted, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		store.Close()
		return nil, err
	}
	attested, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		untrusted.Close()
		store.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &simEnv{
		srv:           srv,
		store:         store,
		untrustedPort: untrusted.Addr().(*net.TCPAddr).Port,
		attestedPort:  attested.Addr().(*net.TCPAddr).Port,
		attestedConns: new(atomic.Int64),
		cancel:        cancel,
		done:          make(chan error, 1),
	}
	counted := countingListener{Listener: attested, n: e.attestedConns}
	go func() { e.done <- srv.Serve(ctx, untrusted, counted) }()
	return e, nil
}

func (e *simEnv) stop() {
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(10 * time.Second):
	}
	e.store.Close()
}

func (e *simEnv) clientConfig() client.Config {
	return client.Config{
		Addr:           "127.0.0.1",
		Simulation:     true,
		UntrustedPort:  e.untrustedPort,
		AttestedPort:   e.attestedPort,
		ConnectTimeout: 5 * time.Second,
	}
}

func setupSim(t *testing.T, mutate func(*server.Config)) *simEnv {
	t.Helper()
	cfg := testSimConfig()
	if mutate != nil {
		mutate(cfg)
	}
	e, err := startSim(cfg, nil)
	if err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(e.stop)
	return e
}

func connect(t *testing.T, cfg client.Config) *client.Session {
	t.Helper()
	s, err := client.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testModel = bytes.Repeat([]byte("not really onnx "), 4096)

func TestSimulationEndToEnd(t *testing.T) {
	e := setupSim(t, nil)
	s := connect(t, e.clientConfig())
	ctx := context.Background()

	if !s.SimulationMode() || s.ServerVersion() != version.ProtocolVersion {
		t.Fatalf("unexpected session state: simulation=%v version=%q", s.SimulationMode(), s.ServerVersion())
	}

	up, err := s.UploadModel(ctx, testModel, client.UploadOptions{
		ModelName: "echo.onnx",
		Sign:      true,
		Save:      true,
		Shape:     []uint64{2, 2},
		DatumType: tensor.F32,
	})
	if err != nil {
		t.Fatalf("UploadModel: %v", err)
	}
	sum := sha256.Sum256(testModel)
	if !bytes.Equal(up.ModelHash, sum[:]) {
		t.Fatalf("model hash = %x, want %x", up.ModelHash, sum)
	}

	in, err := tensor.New([]float32{1, 2, 3, 4}, tensor.F32, []uint64{2, 2})
	if err != nil {
		t.Fatal(err)
	}
	run, err := s.RunModel(ctx, up.ModelID, []tensor.Tensor{in}, true)
	if err != nil {
		t.Fatalf("RunModel: %v", err)
	}
	if len(run.Outputs) != 1 || len(run.Outputs[0].Data) != 16 {
		t.Fatalf("unexpected outputs %+v", run.Outputs)
	}
	got, err := tensor.As[float32](run.Outputs[0])
	if err != nil || got[2] != 3 {
		t.Fatalf("outputs = %v (%v)", got, err)
	}

	path := filepath.Join(t.TempDir(), "run.proof")
	if err := run.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	a, err := proof.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	expect := proof.ExpectRun{ModelID: up.ModelID, Inputs: []tensor.Tensor{in}}

	if err := a.Validate(ctx, expect, proof.ValidateOptions{AllowSimulation: true}); err != nil {
		t.Fatalf("Validate(allow simulation): %v", err)
	}
	key, err := attestation.SigningKeyFromCertificate(e.srv.EnclaveCertificate())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Validate(ctx, expect, proof.ValidateOptions{AllowSimulation: true, SigningKey: key}); err != nil {
		t.Fatalf("Validate(with key): %v", err)
	}
	if err := a.Validate(ctx, expect, proof.ValidateOptions{}); !errors.Is(err, trusterr.ErrSignature) {
		t.Fatalf("Validate(no simulation): want signature error, got %v", err)
	}

	other, _ := tensor.New([]float32{1, 2, 3, 5}, tensor.F32, []uint64{2, 2})
	wrong := proof.ExpectRun{ModelID: up.ModelID, Inputs: []tensor.Tensor{other}}
	if err := a.Validate(ctx, wrong, proof.ValidateOptions{AllowSimulation: true}); !errors.Is(err, trusterr.ErrSignature) {
		t.Fatalf("Validate(other inputs): want signature error, got %v", err)
	}

	tampered := *a
	tampered.Payload = bytes.Replace(a.Payload, []byte(up.ModelID), []byte("00000000-0000-0000-0000-000000000000"), 1)
	if err := tampered.Validate(ctx, expect, proof.ValidateOptions{AllowSimulation: true, SigningKey: key}); !errors.Is(err, trusterr.ErrSignature) {
		t.Fatalf("Validate(tampered): want signature error, got %v", err)
	}

	del, err := s.DeleteModel(ctx, up.ModelID, true)
	if err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if del.ModelID != up.ModelID || !del.IsSigned() {
		t.Fatalf("unexpected delete result %+v", del)
	}
	_, err = s.RunModel(ctx, up.ModelID, []tensor.Tensor{in}, true)
	if !errors.Is(err, &trusterr.Error{Kind: trusterr.KindConnection, Cause: trusterr.CauseProtocol}) {
		t.Fatalf("run after delete: want protocol error, got %v", err)
	}
}

func TestUnsignedOperations(t *testing.T) {
	e := setupSim(t, nil)
	s := connect(t, e.clientConfig())
	ctx := context.Background()

	up, err := s.UploadModel(ctx, []byte("m"), client.UploadOptions{ModelID: "plain"})
	if err != nil {
		t.Fatalf("UploadModel: %v", err)
	}
	if up.IsSigned() || up.ModelID != "plain" {
		t.Fatalf("unexpected upload result %+v", up)
	}
	if err := up.Validate(ctx, proof.ExpectUpload{ModelHash: up.ModelHash}, proof.ValidateOptions{AllowSimulation: true}); !errors.Is(err, trusterr.ErrSignature) {
		t.Fatalf("unsigned response validated: %v", err)
	}

	if _, err := s.UploadModel(ctx, []byte("m"), client.UploadOptions{ModelID: "plain"}); !errors.Is(err, trusterr.ErrConnection) {
		t.Fatalf("duplicate id: want connection error, got %v", err)
	}
}

func TestVersionGate(t *testing.T) {
	e := setupSim(t, func(c *server.Config) { c.ReportedVersion = "0.8.0" })

	_, err := client.Connect(context.Background(), e.clientConfig())
	if !errors.Is(err, trusterr.ErrVersion) {
		t.Fatalf("want version error, got %v", err)
	}
	if code := trusterr.ExitCode(err); code != trusterr.ExitVersion {
		t.Fatalf("exit code = %d", code)
	}
	if n := e.attestedConns.Load(); n != 0 {
		t.Fatalf("attested channel opened %d times for a rejected version", n)
	}

	cfg := e.clientConfig()
	cfg.AllowedVersions = []string{"0.8.0"}
	s := connect(t, cfg)
	if s.ServerVersion() != "0.8.0" {
		t.Fatalf("server version = %q", s.ServerVersion())
	}
	if e.attestedConns.Load() == 0 {
		t.Fatal("allowed version never reached the attested channel")
	}
}

func TestClosedSession(t *testing.T) {
	e := setupSim(t, nil)
	s := connect(t, e.clientConfig())

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !s.Closed() || s.SigningKey() != nil {
		t.Fatal("closed session still holds trust material")
	}
	ctx := context.Background()
	if _, err := s.UploadModel(ctx, testModel, client.UploadOptions{}); !errors.Is(err, trusterr.ErrInvalidState) {
		t.Fatalf("upload after close: %v", err)
	}
	if _, err := s.DeleteModel(ctx, "m", false); !errors.Is(err, trusterr.ErrInvalidState) {
		t.Fatalf("delete after close: %v", err)
	}
	in, _ := tensor.New([]float32{1}, tensor.F32, []uint64{1})
	if _, err := s.RunModel(ctx, "m", []tensor.Tensor{in}, false); !errors.Is(err, trusterr.ErrInvalidState) {
		t.Fatalf("run after close: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(path, testModel, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UploadModelFile(ctx, path, client.UploadOptions{}); !errors.Is(err, trusterr.ErrInvalidState) {
		t.Fatalf("upload file after close: %v", err)
	}
}

func TestConcurrentRunAndClose(t *testing.T) {
	e := setupSim(t, nil)
	s := connect(t, e.clientConfig())
	ctx := context.Background()

	up, err := s.UploadModel(ctx, []byte("shared"), client.UploadOptions{})
	if err != nil {
		t.Fatalf("UploadModel: %v", err)
	}
	in, _ := tensor.New([]float32{1, 2}, tensor.F32, []uint64{2})

	const callers = 20
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunModel(ctx, up.ModelID, []tensor.Tensor{in}, true)
			errs <- err
		}()
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, trusterr.ErrInvalidState) {
			t.Errorf("concurrent run: want success or invalid state, got %v", err)
		}
	}
	if _, err := s.RunModel(ctx, up.ModelID, []tensor.Tensor{in}, true); !errors.Is(err, trusterr.ErrInvalidState) {
		t.Fatalf("run after close: %v", err)
	}
}

func TestModelStoreEviction(t *testing.T) {
	e := setupSim(t, func(c *server.Config) { c.MaxModelStore = 1 })
	s := connect(t, e.clientConfig())
	ctx := context.Background()

	first, err := s.UploadModel(ctx, []byte("first"), client.UploadOptions{Save: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UploadModel(ctx, []byte("second"), client.UploadOptions{Save: true}); err != nil {
		t.Fatal(err)
	}
	in, _ := tensor.New([]float32{1}, tensor.F32, []uint64{1})
	if _, err := s.RunModel(ctx, first.ModelID, []tensor.Tensor{in}, false); !errors.Is(err, trusterr.ErrConnection) {
		t.Fatalf("evicted model still runs: %v", err)
	}
}

func TestConnectFailures(t *testing.T) {
	if _, err := client.Connect(context.Background(), client.Config{Addr: "127.0.0.1"}); !errors.Is(err, trusterr.ErrConfig) {
		t.Fatalf("missing policy: want config error, got %v", err)
	}
	if _, err := client.Connect(context.Background(), client.Config{Addr: "127.0.0.1:443", Simulation: true}); !errors.Is(err, trusterr.ErrConfig) {
		t.Fatalf("address with port: want config error, got %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	_, err = client.Connect(context.Background(), client.Config{
		Addr: "127.0.0.1", Simulation: true, UntrustedPort: port, AttestedPort: port, ConnectTimeout: 2 * time.Second,
	})
	if !errors.Is(err, trusterr.ErrConnection) {
		t.Fatalf("closed port: want connection error, got %v", err)
	}
}

type staticCollector struct{ ev attestation.Evidence }

func (c staticCollector) Collect(context.Context) (attestation.Evidence, error) { return c.ev, nil }

var testMeasurement = bytes.Repeat([]byte{0xab}, 32)

// fakeVerifier accepts any quote equal to "quote" and vouches for the
// enclave-held certificate.
func fakeVerifier(measurement []byte) attestation.Verifier {
	return attestation.VerifierFunc(func(_ context.Context, ev attestation.Evidence) (attestation.Claims, error) {
		if string(ev.Quote) != "quote" {
			return attestation.Claims{}, errors.New("bad quote")
		}
		return attestation.Claims{
			ServerCertPEM: ev.EnclaveHeldData,
			Measurement:   measurement,
			TCBStatus:     "UpToDate",
		}, nil
	})
}

func setupHardwareSim(t *testing.T) (*simEnv, string) {
	t.Helper()
	dir := t.TempDir()
	id, err := enclave.GenerateIdentity(client.DefaultServerName, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	certPath, keyPath := filepath.Join(dir, "enclave.pem"), filepath.Join(dir, "enclave.key")
	if err := id.WriteCertPEM(certPath); err != nil {
		t.Fatal(err)
	}
	if err := id.WriteKeyPEM(keyPath); err != nil {
		t.Fatal(err)
	}
	hostCert := filepath.Join(dir, "host.pem")

	cfg := testSimConfig()
	cfg.Hardware = true
	cfg.EnclaveCertFile, cfg.EnclaveKeyFile = certPath, keyPath
	cfg.HostCertOut = hostCert
	e, err := startSim(cfg, staticCollector{ev: attestation.Evidence{Quote: []byte("quote"), Collateral: []byte("{}")}})
	if err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(e.stop)
	return e, hostCert
}

func TestHardwareAttestation(t *testing.T) {
	e, hostCert := setupHardwareSim(t)
	pol := &policy.Policy{MrEnclave: testMeasurement}

	cfg := e.clientConfig()
	cfg.Simulation = false
	cfg.Policy = pol
	cfg.CertificateFile = hostCert
	cfg.Verifier = fakeVerifier(testMeasurement)
	s := connect(t, cfg)
	if s.SimulationMode() || s.Evidence() == nil {
		t.Fatal("hardware session has no evidence")
	}

	ctx := context.Background()
	up, err := s.UploadModel(ctx, testModel, client.UploadOptions{Sign: true})
	if err != nil {
		t.Fatalf("UploadModel: %v", err)
	}
	if up.IsSimulation() {
		t.Fatal("hardware proof marked as simulation")
	}

	raw, err := up.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	a, err := proof.Unmarshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(testModel)
	expect := proof.ExpectUpload{ModelHash: sum[:]}
	opts := proof.ValidateOptions{ValidateQuote: true, Policy: pol, Verifier: fakeVerifier(testMeasurement)}
	if err := a.Validate(ctx, expect, opts); err != nil {
		t.Fatalf("offline Validate: %v", err)
	}

	opts.Policy = &policy.Policy{MrEnclave: bytes.Repeat([]byte{0xcd}, 32)}
	if err := a.Validate(ctx, expect, opts); !errors.Is(err, trusterr.ErrAttestation) {
		t.Fatalf("wrong measurement: want attestation error, got %v", err)
	}
}

func TestHardwareRejectsPolicyMismatch(t *testing.T) {
	e, hostCert := setupHardwareSim(t)

	cfg := e.clientConfig()
	cfg.Simulation = false
	cfg.Policy = &policy.Policy{MrEnclave: bytes.Repeat([]byte{0x01}, 32)}
	cfg.CertificateFile = hostCert
	cfg.Verifier = fakeVerifier(testMeasurement)
	if _, err := client.Connect(context.Background(), cfg); !errors.Is(err, trusterr.ErrAttestation) {
		t.Fatalf("want attestation error, got %v", err)
	}
}

func TestPinnedDiscoveryRejectsOtherCertificate(t *testing.T) {
	e, _ := setupHardwareSim(t)

	other, err := enclave.GenerateHostIdentity(client.DefaultServerName, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "other.pem")
	if err := other.WriteCertPEM(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	cfg := e.clientConfig()
	cfg.Simulation = false
	cfg.Policy = &policy.Policy{MrEnclave: testMeasurement}
	cfg.CertificateFile = path
	cfg.Verifier = fakeVerifier(testMeasurement)
	if _, err := client.Connect(context.Background(), cfg); !errors.Is(err, trusterr.ErrConnection) {
		t.Fatalf("want connection error, got %v", err)
	}
}
