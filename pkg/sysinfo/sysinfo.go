// Package sysinfo answers the system queries that profile scripts use to
// branch on the machine they run on.
package sysinfo

import (
	"os"
	"os/exec"
	"os/user"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

var releaseFilePattern = regexp.MustCompile(`^\w+(-|_)release$`)

// Distribution returns the distribution name from the first
// /etc/*-release file found, or an empty string if none matches.
func Distribution() string {
	entries, err := os.ReadDir("/etc")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !releaseFilePattern.MatchString(entry.Name()) {
			continue
		}
		data, err := os.ReadFile("/etc/" + entry.Name())
		if err != nil {
			continue
		}
		line, _, _ := strings.Cut(string(data), "\n")
		if _, quoted, ok := strings.Cut(line, `"`); ok {
			value, _, _ := strings.Cut(quoted, `"`)
			return value
		}
		// PRETTY_NAME=Debian style without quotes
		if _, value, ok := strings.Cut(line, "="); ok {
			return value
		}
	}
	return ""
}

// Hostname returns the device's host name.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

// Is64Bit reports whether the running kernel is 64 bit.
func Is64Bit() bool {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return false
	}
	machine := unix.ByteSliceToString(uts.Machine[:])
	return strings.Contains(machine, "64")
}

// Kernel returns the kernel release string.
func Kernel() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

// PkgInstalled reports whether the named executable is reachable on PATH.
func PkgInstalled(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Username returns the name of the current user.
func Username() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
