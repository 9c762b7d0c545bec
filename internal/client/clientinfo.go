package client

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"

	"github.com/aspect-build/sealrun/internal/version"
	"github.com/aspect-build/sealrun/internal/wire"
)

// UserAgent is reported in every request's client info.
const UserAgent = "sealrun_go"

// CollectClientInfo fingerprints the local machine. The uid is
// hex(SHA-256(hostname + "-" + username)).
func CollectClientInfo() wire.ClientInfo {
	host, _ := os.Hostname()
	name, arch, ver, rel := platform()
	sum := sha256.Sum256([]byte(host + "-" + currentUser()))
	return wire.ClientInfo{
		UID:              hex.EncodeToString(sum[:]),
		PlatformName:     name,
		PlatformArch:     arch,
		PlatformVersion:  ver,
		PlatformRelease:  rel,
		UserAgent:        UserAgent,
		UserAgentVersion: version.Version,
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, k := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
