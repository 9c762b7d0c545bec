package client

import "runtime"

func fallbackPlatform() (name, arch, ver, rel string) {
	return runtime.GOOS, runtime.GOARCH, "", ""
}
