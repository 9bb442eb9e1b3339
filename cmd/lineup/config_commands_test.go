package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigNewWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newConfigNewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[provider]") {
		t.Fatalf("sample missing provider section:\n%s", data)
	}
	if !strings.Contains(out.String(), target) {
		t.Fatalf("output %q does not mention target path", out.String())
	}
}

func TestConfigNewRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(target, []byte("# existing"), 0o644); err != nil {
		t.Fatalf("seed existing config: %v", err)
	}

	cmd := newConfigNewCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for existing config without --overwrite")
	}

	cmd = newConfigNewCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{"--path", target, "--overwrite"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("overwrite execute: %v", err)
	}
}
