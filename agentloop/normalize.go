package agentloop

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// escapeReplacer turns the literal two-character sequences \n and \t into
// the characters they name. Models often double-escape file content inside
// JSON tool arguments.
var escapeReplacer = strings.NewReplacer(`\n`, "\n", `\t`, "\t")

// NormalizeEscapes repairs double-escaped newlines and tabs. Applying it
// twice gives the same result as applying it once.
func NormalizeEscapes(content string) string {
	return escapeReplacer.Replace(content)
}

// PathError reports a tool path that cannot be used inside the sandbox.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q rejected: %s", e.Path, e.Reason)
}

// NormalizePath cleans a model-supplied path into slash form and verifies
// it names a descendant of the sandbox root. Only "." and ".." elements and
// separators are rewritten; surrounding spaces stay part of the name.
func NormalizePath(p string) (string, error) {
	raw := p
	if strings.TrimSpace(p) == "" {
		return "", &PathError{Path: raw, Reason: "empty path"}
	}
	p = strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
	if path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", &PathError{Path: raw, Reason: "absolute path"}
	}
	clean := path.Clean(p)
	switch {
	case clean == ".":
		return "", &PathError{Path: raw, Reason: "resolves to the sandbox root"}
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", &PathError{Path: raw, Reason: "escapes the sandbox root"}
	case !filepath.IsLocal(filepath.FromSlash(clean)):
		return "", &PathError{Path: raw, Reason: "not a local path"}
	}
	return clean, nil
}
