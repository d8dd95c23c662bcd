package dynfile

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"filippo.io/age"

	"github.com/schuerik/uberdot/pkg/errors"
)

// MergeTransform concatenates all sources in order.
func MergeTransform() Transform {
	return func(_ context.Context, sources [][]byte) ([]byte, error) {
		var buf bytes.Buffer
		for _, src := range sources {
			buf.Write(src)
		}
		return buf.Bytes(), nil
	}
}

// PipeTransform feeds the first source's content into a shell command and
// captures its stdout. The timeout bounds how long the subprocess may run
// before it is treated as hung.
func PipeTransform(shellCommand string, timeout time.Duration) Transform {
	return func(ctx context.Context, sources [][]byte) ([]byte, error) {
		return runSubprocess(ctx, timeout, sources[0], "sh", "-c", shellCommand)
	}
}

// GPGDecryptTransform decrypts the first source via the gpg binary. An
// empty password means gpg prompts interactively (pinentry).
func GPGDecryptTransform(password string, timeout time.Duration) Transform {
	args := []string{"-q", "-d", "--yes"}
	if password != "" {
		args = append(args, "--batch", "--passphrase", password)
	}
	return func(ctx context.Context, sources [][]byte) ([]byte, error) {
		return runSubprocess(ctx, timeout, sources[0], "gpg", args...)
	}
}

// AgeDecryptTransform decrypts the first source with the identities found
// in the given identity file, entirely in-process.
func AgeDecryptTransform(identityFile string) Transform {
	return func(_ context.Context, sources [][]byte) ([]byte, error) {
		identityData, err := os.Open(identityFile)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfig,
				"failed to open age identity file %s", identityFile)
		}
		defer identityData.Close()

		identities, err := age.ParseIdentities(identityData)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfig,
				"failed to parse age identities from %s", identityFile)
		}

		reader, err := age.Decrypt(bytes.NewReader(sources[0]), identities...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrGeneration, "age decryption failed")
		}
		var out bytes.Buffer
		if _, err := out.ReadFrom(reader); err != nil {
			return nil, errors.Wrap(err, errors.ErrGeneration, "age decryption failed")
		}
		return out.Bytes(), nil
	}
}

// runSubprocess executes a command with the given stdin and returns its
// stdout. The deadline converts a hung subprocess into a timeout error
// instead of blocking the run forever.
func runSubprocess(ctx context.Context, timeout time.Duration, stdin []byte, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Newf(errors.ErrProcessTimeout,
			"%s did not produce output within %s", name, timeout)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrGeneration,
			"%s failed: %s", name, stderr.String())
	}
	return stdout.Bytes(), nil
}
