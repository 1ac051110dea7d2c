package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"SimFed/internal/checkpoint"
)

// nodeKeys are the identities of a daemon. Both derive from one seed: the
// ed25519 key names the node on the transport, the BLS key signs checkpoints.
type nodeKeys struct {
	identity   ed25519.PrivateKey  // identity authenticates QUIC connections
	checkpoint *checkpoint.KeyPair // checkpoint signs save digests
}

// loadOrGenerateKeys loads the hex seed stored at keyPath, creating the file
// when missing. An empty path yields fresh keys that are not kept.
func loadOrGenerateKeys(keyPath string) (*nodeKeys, error) {
	if keyPath == "" {
		seed, err := generateSeed()
		if err != nil {
			return nil, err
		}

		return deriveKeys(seed)
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKeys(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s:\n%w", keyPath, err)
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: got %d, want %d", len(seed), ed25519.SeedSize)
	}

	return deriveKeys(seed)
}

func generateSeed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed:\n%w", err)
	}

	return seed, nil
}

func generateAndSaveKeys(path string) (*nodeKeys, error) {
	seed, err := generateSeed()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return deriveKeys(seed)
}

func deriveKeys(seed []byte) (*nodeKeys, error) {
	bls, err := checkpoint.KeyFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("derive checkpoint key:\n%w", err)
	}

	return &nodeKeys{
		identity:   ed25519.NewKeyFromSeed(seed),
		checkpoint: bls,
	}, nil
}
