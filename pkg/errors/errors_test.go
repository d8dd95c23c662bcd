package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := errors.New(errors.ErrFileNotFound, "no target matches 'vimrc'")
	assert.Equal(t, "[FILE_NOT_FOUND] no target matches 'vimrc'", err.Error())
	assert.Equal(t, errors.ErrFileNotFound, err.Code)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := errors.Wrap(cause, errors.ErrExecution, "could not create link")
	require.NotNil(t, err)
	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	var err *errors.UberdotError = errors.Wrap(nil, errors.ErrExecution, "ignored")
	assert.Nil(t, err)
}

func TestIsMatchesOnCode(t *testing.T) {
	err := errors.Newf(errors.ErrParentConflict, "profile %q already has parent %q", "S", "A")
	assert.True(t, stderrors.Is(err, errors.New(errors.ErrParentConflict, "")))
	assert.False(t, stderrors.Is(err, errors.New(errors.ErrTargetCollision, "")))
}

func TestCodeOnForeignError(t *testing.T) {
	assert.Equal(t, errors.ErrUnknown, errors.Code(fmt.Errorf("plain")))
	assert.Equal(t, errors.ErrorCode(""), errors.Code(nil))
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, errors.ExitOK},
		{"generation", errors.New(errors.ErrFileNotFound, ""), errors.ExitGeneration},
		{"ambiguous", errors.New(errors.ErrAmbiguousMatch, ""), errors.ExitGeneration},
		{"integrity", errors.New(errors.ErrTargetCollision, ""), errors.ExitIntegrity},
		{"parent conflict", errors.New(errors.ErrParentConflict, ""), errors.ExitIntegrity},
		{"precondition", errors.New(errors.ErrSchemaMismatch, ""), errors.ExitPrecondition},
		{"unmanaged file", errors.New(errors.ErrUnmanagedFileExists, ""), errors.ExitPrecondition},
		{"fatal", errors.New(errors.ErrFatal, ""), errors.ExitFatal},
		{"abort", errors.New(errors.ErrUserAbort, ""), errors.ExitUserAbort},
		{"config", errors.New(errors.ErrConfig, ""), errors.ExitUser},
		{"foreign", fmt.Errorf("boom"), errors.ExitUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.ExitCode(tt.err))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := errors.New(errors.ErrBlacklisted, "refusing to touch file").
		WithDetail("path", "/home/user/.ssh/authorized_keys")
	assert.Equal(t, "/home/user/.ssh/authorized_keys", err.Details["path"])
}
