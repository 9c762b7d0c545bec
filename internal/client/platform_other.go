//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package client

func platform() (name, arch, ver, rel string) {
	return fallbackPlatform()
}
