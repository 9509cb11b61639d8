package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/doughall/rawsock/internal/rawsock"
)

// runCLI runs the CLI against a config file containing body.
func runCLI(t *testing.T, body string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var stdout, stderr bytes.Buffer
	err := run(append([]string{"--config", path}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--version"}, &stdout, &stderr); err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "rawsock ") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"listen"}},
		{"unknown global flag", []string{"--frobnicate", "open"}},
		{"unexpected argument", []string{"config", "extra"}},
		{"promisc without interface", []string{"capture", "--promisc"}},
		{"bad ethertype", []string{"capture", "--ethertype", "lldp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, "", tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHelp(t *testing.T) {
	if _, err := runCLI(t, "", "--help"); err != nil {
		t.Errorf("--help returned error: %v", err)
	}
	if _, err := runCLI(t, "", "open", "--help"); err != nil {
		t.Errorf("open --help returned error: %v", err)
	}
}

func TestConfigCommand(t *testing.T) {
	out, err := runCLI(t, "helper_path: /opt/rawsock/rawsocket-helper\nlog_level: error\n", "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	for _, want := range []string{"helper_path: /opt/rawsock/rawsocket-helper", "log_level: error", "family: 17"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigLoadError(t *testing.T) {
	if _, err := runCLI(t, "helper_path: relative/helper\n", "config"); err == nil {
		t.Error("expected error for relative helper_path")
	}
}

func TestOpenMissingHelper(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "rawsocket-helper")
	_, err := runCLI(t, "helper_path: "+missing+"\n", "open")
	if !errors.Is(err, rawsock.ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got: %v", err)
	}
}

func TestOpenInvalidRequest(t *testing.T) {
	_, err := runCLI(t, "", "open", "--family", "0")
	if !errors.Is(err, rawsock.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestCheckReportsProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rawsocket-helper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("writing helper: %v", err)
	}

	out, err := runCLI(t, "helper_path: "+path+"\n", "check")
	if err == nil {
		t.Fatal("expected error for helper without capabilities")
	}
	if !strings.Contains(out, "helper:      "+path) {
		t.Errorf("output missing helper path:\n%s", out)
	}
	if !strings.Contains(out, "no file capabilities") {
		t.Errorf("output missing capability problem:\n%s", out)
	}
}

func TestInterfacesCommand(t *testing.T) {
	out, err := runCLI(t, "", "interfaces")
	if err != nil {
		t.Fatalf("interfaces failed: %v", err)
	}
	if !strings.HasPrefix(out, "INDEX") {
		t.Errorf("output missing header:\n%s", out)
	}

	out, err = runCLI(t, "", "interfaces", "--yaml")
	if err != nil {
		t.Fatalf("interfaces --yaml failed: %v", err)
	}
	if len(out) > 0 && !strings.Contains(out, "name:") {
		t.Errorf("yaml output missing names:\n%s", out)
	}
}
