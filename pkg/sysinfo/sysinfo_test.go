package sysinfo_test

import (
	"testing"

	"github.com/schuerik/uberdot/pkg/sysinfo"
	"github.com/stretchr/testify/assert"
)

func TestHostname(t *testing.T) {
	assert.NotEmpty(t, sysinfo.Hostname())
}

func TestKernel(t *testing.T) {
	assert.NotEmpty(t, sysinfo.Kernel())
}

func TestUsername(t *testing.T) {
	assert.NotEmpty(t, sysinfo.Username())
}

func TestPkgInstalled(t *testing.T) {
	// The shell is guaranteed on any unix-like test machine.
	assert.True(t, sysinfo.PkgInstalled("sh"))
	assert.False(t, sysinfo.PkgInstalled("definitely-not-a-real-binary-xyz"))
}
