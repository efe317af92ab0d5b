package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMultiStringFlagAccumulatesAndJoins(t *testing.T) {
	var m multiStringFlag
	if err := m.Set("a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set("b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, want := m.String(), "a,b"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
}

func TestRunDryRunPrintsConfigAndExits(t *testing.T) {
	datadir := filepath.Join(t.TempDir(), "data")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-datadir", datadir, "-dry-run"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run: code=%d stderr=%s", code, stderr.String())
	}
	if stdout.Len() == 0 {
		t.Fatal("expected config to be printed to stdout")
	}
}

func TestRunRejectsInvalidBindAddr(t *testing.T) {
	datadir := filepath.Join(t.TempDir(), "data")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-datadir", datadir, "-bind", "not-an-addr", "-dry-run"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2 for invalid bind addr, got %d", code)
	}
}

func TestRunRejectsWitnessNameWithoutKeystore(t *testing.T) {
	datadir := filepath.Join(t.TempDir(), "data")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-datadir", datadir, "-witness-name", "w1", "-dry-run"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2 when witness-name is set without a keystore, got %d", code)
	}
}

func TestRunBootstrapsGenesisAndReportsHead(t *testing.T) {
	datadir := filepath.Join(t.TempDir(), "data")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-datadir", datadir, "-genesis-origin-hash", "0", "-genesis-master", "w1", "-dry-run"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run: code=%d stderr=%s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("head_index=0")) {
		t.Fatalf("expected bootstrapped head to be reported, got: %s", stdout.String())
	}
}
