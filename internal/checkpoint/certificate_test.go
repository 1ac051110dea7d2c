package checkpoint

import (
	"bytes"
	"testing"

	"SimFed/internal/hla"
)

func newTestKey(t *testing.T, b byte) *KeyPair {
	t.Helper()

	k, err := KeyFromSeed(bytes.Repeat([]byte{b}, 32))
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	return k
}

func TestSignAndVerify(t *testing.T) {
	k := newTestKey(t, 1)
	msg := []byte("hello")

	sig := k.Sign(msg)
	if len(sig) != SignatureSize || len(k.PublicKey()) != PublicKeySize {
		t.Fatalf("sizes: sig %d pk %d", len(sig), len(k.PublicKey()))
	}

	if !Verify(sig, msg, k.PublicKey()) {
		t.Error("valid signature rejected")
	}

	if Verify(sig, []byte("other"), k.PublicKey()) {
		t.Error("signature accepted for another message")
	}

	if Verify(sig, msg, newTestKey(t, 2).PublicKey()) {
		t.Error("signature accepted for another key")
	}
}

func TestKeyFromShortSeed(t *testing.T) {
	if _, err := KeyFromSeed(make([]byte, 8)); err == nil {
		t.Error("short seed should be rejected")
	}
}

func TestCertificate(t *testing.T) {
	keys := map[hla.FederateHandle]*KeyPair{1: newTestKey(t, 1), 2: newTestKey(t, 2)}
	digests := map[hla.FederateHandle][]byte{1: []byte("digest-1"), 2: []byte("digest-2")}

	b := NewBuilder("fed", "s1")

	for _, fed := range []hla.FederateHandle{2, 1} {
		sig := keys[fed].Sign(Statement("fed", "s1", fed, digests[fed]))
		if err := b.Add(fed, fed.String(), keys[fed].PublicKey(), digests[fed], sig); err != nil {
			t.Fatalf("add %s: %v", fed, err)
		}
	}

	forged := keys[1].Sign(Statement("fed", "s1", 3, nil))
	if err := b.Add(3, "fed-3", keys[2].PublicKey(), nil, forged); err == nil {
		t.Error("signature under the wrong key accepted")
	}

	if b.Len() != 2 {
		t.Fatalf("len: got %d, want 2", b.Len())
	}

	cert, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if cert.Entries[0].Federate != 1 || cert.Entries[1].Federate != 2 {
		t.Errorf("entries not sorted: %+v", cert.Entries)
	}

	if err := cert.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if e, ok := cert.Entry("fed-2"); !ok || e.Federate != 2 {
		t.Errorf("entry lookup: %+v %v", e, ok)
	}

	tampered := *cert
	tampered.Entries = append([]Entry(nil), cert.Entries...)
	tampered.Entries[0].Digest = "00"

	if err := tampered.Verify(); err == nil {
		t.Error("tampered digest verified")
	}

	tampered.Label = "s2"
	if err := tampered.Verify(); err == nil {
		t.Error("relabelled certificate verified")
	}
}

func TestBuildEmpty(t *testing.T) {
	if _, err := NewBuilder("fed", "s").Build(); err == nil {
		t.Error("empty certificate should not build")
	}
}
