package version

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/aspect-build/sealrun/internal/version.Version=0.1.0
//	  -X github.com/aspect-build/sealrun/internal/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// ProtocolVersion is the enclave protocol this client speaks. Servers report
// their own version on the discovery channel.
const ProtocolVersion = "0.7.0"

// String returns a human-readable version string.
func String(binaryName string) string {
	return fmt.Sprintf("%s %s (commit=%s, protocol=%s, go=%s, %s/%s)",
		binaryName, Version, GitCommit, ProtocolVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Canonical normalizes v to the "vMAJOR.MINOR.PATCH" form semver expects.
// It returns "" when v is not a valid version.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// Supported reports whether a server version is acceptable. With an empty
// allow-list the server must share ProtocolVersion's major.minor; otherwise
// it must equal one of the listed versions.
func Supported(server string, allow []string) bool {
	got := Canonical(server)
	if got == "" {
		return false
	}
	if len(allow) > 0 {
		for _, a := range allow {
			if c := Canonical(a); c != "" && semver.Compare(c, got) == 0 {
				return true
			}
		}
		return false
	}
	return semver.MajorMinor(got) == semver.MajorMinor(Canonical(ProtocolVersion))
}
