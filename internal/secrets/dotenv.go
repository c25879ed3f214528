package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SetEntry writes KEY=VALUE into a .env file, replacing the first existing
// assignment of key in place (an "export " prefix is kept) or appending it.
// Comments, blank lines and ordering survive. The file is written 0o600.
func SetEntry(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read dotenv: %w", err)
	}

	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	}

	assignment := key + "=" + quoteValue(value)
	replaced := false
	for i, line := range lines {
		if lineKey(line) != key {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "export ") {
			lines[i] = "export " + assignment
		} else {
			lines[i] = assignment
		}
		replaced = true
		break
	}
	if !replaced {
		lines = append(lines, assignment)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create dotenv directory: %w", err)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// lineKey returns the variable name assigned on line, or "" for comments
// and non-assignments.
func lineKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(k)
}

// quoteValue wraps the value in double quotes if it contains spaces, quotes, or special chars.
func quoteValue(v string) string {
	if strings.ContainsAny(v, " \t\"'\\#$") {
		escaped := strings.ReplaceAll(v, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return v
}
