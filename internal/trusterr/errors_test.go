package trusterr

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := Signature("validate", "invalid returned %s", "model_hash")
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature match")
	}
	if errors.Is(err, ErrAttestation) {
		t.Fatalf("unexpected ErrAttestation match")
	}

	wrapped := fmt.Errorf("upload: %w", err)
	if !errors.Is(wrapped, ErrSignature) {
		t.Fatalf("expected wrapped match")
	}
}

func TestConnectionCause(t *testing.T) {
	err := Connection("discovery", CauseTimeout, io.ErrUnexpectedEOF, "dial %s", "host:1")
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection kind")
	}
	if !errors.Is(err, &Error{Kind: KindConnection, Cause: CauseTimeout}) {
		t.Fatalf("expected timeout cause match")
	}
	if errors.Is(err, &Error{Kind: KindConnection, Cause: CauseReset}) {
		t.Fatalf("unexpected reset cause match")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected underlying error to unwrap")
	}
	msg := err.Error()
	for _, want := range []string{"connection error", "[discovery]", "(timeout)", "dial host:1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Config("policy", nil, "missing"), ExitConfig},
		{Version("server-info", "bad"), ExitVersion},
		{Attestation("attestation", nil, "bad"), ExitAttestation},
		{Signature("validate", "bad"), ExitSignature},
		{Encoding("bad"), ExitEncoding},
		{InvalidState("run", "closed"), ExitInvalidState},
		{errors.New("plain"), ExitGeneral},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Errorf("ExitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
