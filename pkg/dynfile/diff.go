package dynfile

import (
	"bytes"
	"fmt"
)

// UnifiedDiff renders a minimal unified diff between the pristine and
// edited content of an artifact. Good enough for dotfile-sized inputs;
// this is a display and patch-file format, not a merge engine.
func UnifiedDiff(pristine, edited []byte, name string) []byte {
	a := splitLines(pristine)
	b := splitLines(edited)

	var out bytes.Buffer
	fmt.Fprintf(&out, "--- %s (generated)\n", name)
	fmt.Fprintf(&out, "+++ %s (edited)\n", name)

	// Longest common subsequence over lines.
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			fmt.Fprintf(&out, " %s\n", a[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			fmt.Fprintf(&out, "-%s\n", a[i])
			i++
		default:
			fmt.Fprintf(&out, "+%s\n", b[j])
			j++
		}
	}
	for ; i < len(a); i++ {
		fmt.Fprintf(&out, "-%s\n", a[i])
	}
	for ; j < len(b); j++ {
		fmt.Fprintf(&out, "+%s\n", b[j])
	}
	return out.Bytes()
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	parts := bytes.Split(data, []byte("\n"))
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}
