package version

import (
	"strings"
	"testing"
)

func TestSupported(t *testing.T) {
	cases := []struct {
		server string
		allow  []string
		want   bool
	}{
		{ProtocolVersion, nil, true},
		{"0.7.9", nil, true},
		{"v0.7.1", nil, true},
		{"0.8.0", nil, false},
		{"1.7.0", nil, false},
		{"garbage", nil, false},
		{"", nil, false},
		{"0.6.2", []string{"0.6.2", "0.6.3"}, true},
		{"0.6.4", []string{"0.6.2", "0.6.3"}, false},
		{ProtocolVersion, []string{"0.6.2"}, false},
	}
	for _, c := range cases {
		if got := Supported(c.server, c.allow); got != c.want {
			t.Errorf("Supported(%q, %v) = %v, want %v", c.server, c.allow, got, c.want)
		}
	}
}

func TestString(t *testing.T) {
	s := String("sealrun")
	if !strings.HasPrefix(s, "sealrun ") || !strings.Contains(s, "protocol="+ProtocolVersion) {
		t.Fatalf("unexpected version string %q", s)
	}
}
