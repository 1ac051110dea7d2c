package checkpoint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"SimFed/internal/hla"
)

const (
	// PublicKeySize is the size of a compressed BLS public key.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed BLS signature.
	SignatureSize = 96
)

// dst is the domain separation tag for save signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// KeyPair is a federate's signing key for save statements.
type KeyPair struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// GenerateKey creates a key pair from a random seed.
func GenerateKey() (*KeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return KeyFromSeed(ikm[:])
}

// KeyFromSeed derives a key pair from a seed of at least 32 bytes.
func KeyFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &KeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// Sign signs a message.
func (k *KeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, dst).Compress()
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() []byte {
	return k.public.Compress()
}

// Statement is the message every federate signs after saving: it binds the
// federation, the save label and the federate's own checkpoint digest.
func Statement(federation, label string, fed hla.FederateHandle, digest []byte) []byte {
	h := blake3.New()
	h.Write([]byte("simfed-save\x00"))
	h.Write([]byte(federation))
	h.Write([]byte{0})
	h.Write([]byte(label))
	h.Write([]byte{0, byte(fed >> 24), byte(fed >> 16), byte(fed >> 8), byte(fed)})
	h.Write(digest)

	return h.Sum(nil)
}

// Verify checks one signature.
func Verify(signature, message, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, dst)
}

// Aggregate combines signatures into one.
func Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))

	for i, raw := range signatures {
		if len(raw) != SignatureSize {
			return nil, fmt.Errorf("invalid signature size at index %d", i)
		}

		sig := new(blst.P2Affine).Uncompress(raw)
		if sig == nil {
			return nil, fmt.Errorf("invalid signature at index %d", i)
		}

		sigs[i] = sig
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// Entry is one federate's share of a certificate.
type Entry struct {
	Federate  hla.FederateHandle `yaml:"federate"`
	Name      string             `yaml:"name"`
	PublicKey string             `yaml:"public_key"` // PublicKey is hex encoded
	Digest    string             `yaml:"digest"`     // Digest is the hex checkpoint digest
}

// Certificate proves that every listed federate stored its checkpoint of a save.
type Certificate struct {
	Federation string  `yaml:"federation"`
	Label      string  `yaml:"label"`
	Entries    []Entry `yaml:"entries"`   // Entries is sorted by federate handle
	Signature  string  `yaml:"signature"` // Signature is the hex aggregate over every statement
}

// Builder collects verified signatures for one save.
type Builder struct {
	federation string
	label      string
	entries    map[hla.FederateHandle]Entry
	signatures map[hla.FederateHandle][]byte
}

// NewBuilder starts a certificate for a save.
func NewBuilder(federation, label string) *Builder {
	return &Builder{
		federation: federation,
		label:      label,
		entries:    make(map[hla.FederateHandle]Entry),
		signatures: make(map[hla.FederateHandle][]byte),
	}
}

// Add verifies and records one federate's signature.
func (b *Builder) Add(fed hla.FederateHandle, name string, publicKey, digest, signature []byte) error {
	if !Verify(signature, Statement(b.federation, b.label, fed, digest), publicKey) {
		return fmt.Errorf("invalid save signature from %s", fed)
	}

	b.entries[fed] = Entry{
		Federate:  fed,
		Name:      name,
		PublicKey: hex.EncodeToString(publicKey),
		Digest:    hex.EncodeToString(digest),
	}
	b.signatures[fed] = signature

	return nil
}

// Len returns the number of recorded signatures.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build aggregates the recorded signatures.
func (b *Builder) Build() (*Certificate, error) {
	feds := make([]hla.FederateHandle, 0, len(b.entries))
	for fed := range b.entries {
		feds = append(feds, fed)
	}

	sort.Slice(feds, func(i, j int) bool { return feds[i] < feds[j] })

	cert := &Certificate{Federation: b.federation, Label: b.label}
	sigs := make([][]byte, 0, len(feds))

	for _, fed := range feds {
		cert.Entries = append(cert.Entries, b.entries[fed])
		sigs = append(sigs, b.signatures[fed])
	}

	agg, err := Aggregate(sigs)
	if err != nil {
		return nil, fmt.Errorf("aggregate save signatures:\n%w", err)
	}

	cert.Signature = hex.EncodeToString(agg)

	return cert, nil
}

// Verify checks the aggregate signature over every entry's statement.
func (c *Certificate) Verify() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("certificate has no entries")
	}

	sig, err := hex.DecodeString(c.Signature)
	if err != nil || len(sig) != SignatureSize {
		return fmt.Errorf("malformed certificate signature")
	}

	aggSig := new(blst.P2Affine).Uncompress(sig)
	if aggSig == nil {
		return fmt.Errorf("malformed certificate signature")
	}

	pks := make([]*blst.P1Affine, len(c.Entries))
	msgs := make([]blst.Message, len(c.Entries))

	for i, e := range c.Entries {
		raw, err := hex.DecodeString(e.PublicKey)
		if err != nil || len(raw) != PublicKeySize {
			return fmt.Errorf("malformed public key for %s", e.Federate)
		}

		pk := new(blst.P1Affine).Uncompress(raw)
		if pk == nil {
			return fmt.Errorf("malformed public key for %s", e.Federate)
		}

		digest, err := hex.DecodeString(e.Digest)
		if err != nil {
			return fmt.Errorf("malformed digest for %s", e.Federate)
		}

		pks[i] = pk
		msgs[i] = Statement(c.Federation, c.Label, e.Federate, digest)
	}

	if !aggSig.AggregateVerify(true, pks, true, msgs, dst) {
		return fmt.Errorf("certificate signature does not verify")
	}

	return nil
}

// Entry returns the entry of a federate name.
func (c *Certificate) Entry(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}
