//go:build blackbox

package blackbox

import (
	"path/filepath"
	"testing"
)

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")

	out := run(t, "config", "init", "-o", path)
	if !contains(out, "Created default configuration") {
		t.Fatalf("unexpected init output:\n%s", out)
	}

	out = run(t, "config", "validate", "-f", path)
	if !contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output:\n%s", out)
	}
	if !contains(out, "paper") {
		t.Fatalf("default config should be paper mode:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out := run(t, "version")
	if !contains(out, "krwbot version") {
		t.Fatalf("unexpected version output:\n%s", out)
	}
}
