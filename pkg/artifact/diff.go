package artifact

import (
	"errors"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"
)

// ErrDrift is returned by Check when the committed artifact is out of date.
var ErrDrift = errors.New("artifact is out of date")

// Diff returns a unified diff from committed to fresh, or "" when equal.
func Diff(name, committed, fresh string) (string, error) {
	if committed == fresh {
		return "", nil
	}
	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(committed),
		B:        difflib.SplitLines(fresh),
		FromFile: name + " (committed)",
		ToFile:   name + " (generated)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", name, err)
	}
	return text, nil
}

// Check compares the file at path with fresh. On mismatch it returns the
// diff and an error wrapping ErrDrift. A missing file counts as drift.
func Check(path, fresh string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading artifact: %w", err)
	}
	diff, err := Diff(path, string(data), fresh)
	if err != nil {
		return "", err
	}
	if diff != "" {
		return diff, fmt.Errorf("%s: %w", path, ErrDrift)
	}
	return "", nil
}
