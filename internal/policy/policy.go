// Package policy loads the expected enclave identity a session must match
// and checks verified attestation claims against it.
package policy

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/aspect-build/sealrun/internal/attestation"
	"github.com/aspect-build/sealrun/internal/trusterr"
)

// Format selects the policy file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// DefaultAllowedTCBStatus is used when a policy does not list any status.
var DefaultAllowedTCBStatus = []string{"UpToDate"}

// Policy is the expected identity of an attested enclave. Byte fields are
// decoded from hex at load time; a Policy is not modified afterwards.
type Policy struct {
	MrEnclave        HexBytes `toml:"mr_enclave" yaml:"mr_enclave"`
	MrSigner         HexBytes `toml:"mr_signer" yaml:"mr_signer"`
	AppID            string   `toml:"app_id" yaml:"app_id"`
	ISVProdID        *uint16  `toml:"isv_prodid" yaml:"isv_prodid"`
	ISVSVN           uint16   `toml:"isv_svn" yaml:"isv_svn"`
	AllowDebug       bool     `toml:"allow_debug" yaml:"allow_debug"`
	AllowedTCBStatus []string `toml:"allowed_tcb_status" yaml:"allowed_tcb_status"`
}

// HexBytes is a byte string written as hex in policy files.
type HexBytes []byte

func (h *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimSpace(string(text)), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex %q: %w", s, err)
	}
	*h = b
	return nil
}

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h HexBytes) String() string { return hex.EncodeToString(h) }

// Load reads a policy file. .yaml and .yml files are parsed as YAML,
// everything else as TOML.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, trusterr.Config("policy", err, "read policy file %s", path)
	}
	p, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, trusterr.Config("policy", err, "load policy file %s", path)
	}
	return p, nil
}

// FormatFor guesses the format from a file name.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes a policy from memory.
func Parse(data []byte, format Format) (*Policy, error) {
	var p Policy
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, trusterr.Config("policy", err, "decode yaml policy")
		}
	case FormatTOML, "":
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return nil, trusterr.Config("policy", err, "decode toml policy")
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, trusterr.Config("policy", nil, "unknown policy keys %v", undec)
		}
	default:
		return nil, trusterr.Config("policy", nil, "unsupported policy format %q", format)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) validate() error {
	if len(p.MrEnclave) == 0 && len(p.MrSigner) == 0 && p.AppID == "" {
		return trusterr.Config("policy", nil, "policy must pin at least one of mr_enclave, mr_signer, app_id")
	}
	for name, v := range map[string]HexBytes{"mr_enclave": p.MrEnclave, "mr_signer": p.MrSigner} {
		if len(v) != 0 && len(v) != 32 && len(v) != 48 {
			return trusterr.Config("policy", nil, "%s must be 32 or 48 bytes, got %d", name, len(v))
		}
	}
	return nil
}

// Check enforces p against claims that a Verifier already proved.
func (p *Policy) Check(c attestation.Claims) error {
	if p == nil {
		return trusterr.Attestation("policy", nil, "no policy to check claims against")
	}
	if len(p.MrEnclave) > 0 && !bytes.Equal(p.MrEnclave, c.Measurement) {
		return trusterr.Attestation("policy", nil, "measurement mismatch: expected %x, got %x", []byte(p.MrEnclave), c.Measurement)
	}
	if len(p.MrSigner) > 0 && !bytes.Equal(p.MrSigner, c.Signer) {
		return trusterr.Attestation("policy", nil, "signer mismatch: expected %x, got %x", []byte(p.MrSigner), c.Signer)
	}
	if p.AppID != "" && !strings.EqualFold(p.AppID, c.AppID) {
		return trusterr.Attestation("policy", nil, "app id mismatch: expected %s, got %s", p.AppID, c.AppID)
	}
	if c.ISVUnreported && (p.ISVProdID != nil || p.ISVSVN > 0) {
		return trusterr.Attestation("policy", nil, "isv_prodid and isv_svn are not reported by this enclave's quote (TDX); remove them from the policy")
	}
	if p.ISVProdID != nil && *p.ISVProdID != c.ProductID {
		return trusterr.Attestation("policy", nil, "product id mismatch: expected %d, got %d", *p.ISVProdID, c.ProductID)
	}
	if c.SVN < p.ISVSVN {
		return trusterr.Attestation("policy", nil, "security version too low: expected >= %d, got %d", p.ISVSVN, c.SVN)
	}
	if c.Debug && !p.AllowDebug {
		return trusterr.Attestation("policy", nil, "enclave runs in debug mode but the policy forbids it")
	}
	if c.TCBStatus != "" {
		allowed := p.AllowedTCBStatus
		if len(allowed) == 0 {
			allowed = DefaultAllowedTCBStatus
		}
		if !containsFold(allowed, c.TCBStatus) {
			return trusterr.Attestation("policy", nil, "tcb status %s not in allowed %v", c.TCBStatus, allowed)
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
