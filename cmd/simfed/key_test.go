package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := loadOrGenerateKeys(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("key file not written: %v", err)
	}

	second, err := loadOrGenerateKeys(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !first.identity.Equal(second.identity) {
		t.Error("identity key changed across loads")
	}

	if !bytes.Equal(first.checkpoint.PublicKey(), second.checkpoint.PublicKey()) {
		t.Error("checkpoint key changed across loads")
	}
}

func TestLoadOrGenerateKeysRejectsBadSeed(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.key")
	if err := os.WriteFile(short, []byte("abcd\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadOrGenerateKeys(short); err == nil {
		t.Error("short seed accepted")
	}

	garbage := filepath.Join(dir, "garbage.key")
	if err := os.WriteFile(garbage, []byte("not hex"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadOrGenerateKeys(garbage); err == nil {
		t.Error("non hex seed accepted")
	}
}

func TestEphemeralKeysDiffer(t *testing.T) {
	a, err := loadOrGenerateKeys("")
	if err != nil {
		t.Fatal(err)
	}

	b, err := loadOrGenerateKeys("")
	if err != nil {
		t.Fatal(err)
	}

	if a.identity.Equal(b.identity) {
		t.Error("two ephemeral keys are equal")
	}
}

func TestGlobalFlagsOverrideLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simfed.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\nrti:\n  listen_addr: 127.0.0.1:0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	g := &globalFlags{configPath: path, logLevel: "debug"}

	cfg, err := g.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q, want debug", cfg.LogLevel)
	}

	if cfg.RTI.ListenAddr != "127.0.0.1:0" {
		t.Errorf("listen addr: got %q, want 127.0.0.1:0", cfg.RTI.ListenAddr)
	}

	g = &globalFlags{logLevel: "loud"}
	if _, err := g.load(); err == nil {
		t.Error("unknown log level accepted")
	}
}
