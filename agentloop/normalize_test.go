package agentloop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "print('hi')", "print('hi')"},
		{"escaped newline", `import os\nprint(os.getcwd())`, "import os\nprint(os.getcwd())"},
		{"escaped tab", `def f():\n\treturn 1`, "def f():\n\treturn 1"},
		{"real newline kept", "a\nb", "a\nb"},
		{"mixed", "a\\nb\nc\\td", "a\nb\nc\td"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEscapes(tt.in))
		})
	}
}

func TestNormalizeEscapesIdempotent(t *testing.T) {
	inputs := []string{
		`a\nb\tc`,
		`\\n`,
		"x\\\\ny",
		"already\nclean\tcontent",
		`trailing\`,
	}
	for _, in := range inputs {
		once := NormalizeEscapes(in)
		assert.Equal(t, once, NormalizeEscapes(once), "input %q", in)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		reason string
	}{
		{in: "README.md", want: "README.md"},
		{in: "app/main.py", want: "app/main.py"},
		{in: "./app//main.py", want: "app/main.py"},
		{in: "app/../main.py", want: "main.py"},
		{in: `app\views.py`, want: "app/views.py"},
		{in: "  spaced.txt ", want: "  spaced.txt "},
		{in: "docs/ notes.md", want: "docs/ notes.md"},
		{in: "", reason: "empty path"},
		{in: "   ", reason: "empty path"},
		{in: "/etc/passwd", reason: "absolute path"},
		{in: "../outside.txt", reason: "escapes the sandbox root"},
		{in: "app/../../outside.txt", reason: "escapes the sandbox root"},
		{in: `..\outside.txt`, reason: "escapes the sandbox root"},
		{in: "..", reason: "escapes the sandbox root"},
		{in: ".", reason: "resolves to the sandbox root"},
		{in: "app/..", reason: "resolves to the sandbox root"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			var pe *PathError
			require.True(t, errors.As(err, &pe), "expected PathError, got %v", err)
			assert.Equal(t, tt.reason, pe.Reason)
		})
	}
}
