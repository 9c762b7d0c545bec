//go:build linux || darwin || freebsd || netbsd || openbsd

package client

import "golang.org/x/sys/unix"

func platform() (name, arch, ver, rel string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return fallbackPlatform()
	}
	return unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Machine[:]),
		unix.ByteSliceToString(u.Version[:]),
		unix.ByteSliceToString(u.Release[:])
}
