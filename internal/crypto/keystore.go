package crypto

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	geth "github.com/ethereum/go-ethereum/crypto"

	"proofnet/internal/types"
)

var (
	// ErrKeyNotFound means this node holds no private key for the requested
	// public key. It is terminal for the local vote on a request.
	ErrKeyNotFound = errors.New("crypto: key not found")
	// ErrBackend wraps any failure of the key custody backend. Callers retry.
	ErrBackend = errors.New("crypto: signing backend failure")
)

// Keystore binds validator public keys to signing capability.
type Keystore interface {
	// Sign produces a recoverable signature over digest with the key for pub.
	Sign(ctx context.Context, pub types.PublicKey, digest [32]byte) (types.Signature, error)
	// AuthorityKey returns the first key in set this keystore can sign with.
	AuthorityKey(set []types.PublicKey) (types.PublicKey, bool)
}

// MemoryKeystore keeps secp256k1 keys in process memory.
type MemoryKeystore struct {
	mu   sync.RWMutex
	keys map[types.PublicKey]*ecdsa.PrivateKey
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{keys: make(map[types.PublicKey]*ecdsa.PrivateKey)}
}

// Add registers priv and returns its compressed public key.
func (ks *MemoryKeystore) Add(priv *ecdsa.PrivateKey) types.PublicKey {
	pub := CompressPublicKey(&priv.PublicKey)
	ks.mu.Lock()
	ks.keys[pub] = priv
	ks.mu.Unlock()
	return pub
}

// AddHex parses a hex private key (with or without 0x) and registers it.
func (ks *MemoryKeystore) AddHex(privateKeyHex string) (types.PublicKey, error) {
	if privateKeyHex == "" {
		return types.PublicKey{}, errors.New("private key is empty")
	}
	priv, err := geth.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return types.PublicKey{}, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ks.Add(priv), nil
}

// AddKeyFile loads a hex key file in the go-ethereum format.
func (ks *MemoryKeystore) AddKeyFile(keyFile string) (types.PublicKey, error) {
	if keyFile == "" {
		return types.PublicKey{}, errors.New("key file path is empty")
	}
	priv, err := geth.LoadECDSA(keyFile)
	if err != nil {
		return types.PublicKey{}, fmt.Errorf("failed to load private key from file: %w", err)
	}
	return ks.Add(priv), nil
}

// Generate creates and registers a fresh key.
func (ks *MemoryKeystore) Generate() (types.PublicKey, error) {
	priv, err := geth.GenerateKey()
	if err != nil {
		return types.PublicKey{}, err
	}
	return ks.Add(priv), nil
}

// Keys lists registered public keys in byte order.
func (ks *MemoryKeystore) Keys() []types.PublicKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]types.PublicKey, 0, len(ks.keys))
	for k := range ks.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}

func (ks *MemoryKeystore) Sign(_ context.Context, pub types.PublicKey, digest [32]byte) (types.Signature, error) {
	var sig types.Signature
	ks.mu.RLock()
	priv, ok := ks.keys[pub]
	ks.mu.RUnlock()
	if !ok {
		return sig, ErrKeyNotFound
	}
	raw, err := geth.Sign(digest[:], priv)
	if err != nil {
		return sig, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(raw) != types.SignatureLength {
		return sig, fmt.Errorf("%w: unexpected signature length %d", ErrBackend, len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

func (ks *MemoryKeystore) AuthorityKey(set []types.PublicKey) (types.PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	for _, pub := range set {
		if _, ok := ks.keys[pub]; ok {
			return pub, true
		}
	}
	return types.PublicKey{}, false
}

// LoadKeystore builds a MemoryKeystore from inline hex keys and every
// *.key file in dir. Either source may be empty.
func LoadKeystore(hexKeys []string, dir string) (*MemoryKeystore, error) {
	ks := NewMemoryKeystore()
	for i, k := range hexKeys {
		if _, err := ks.AddHex(k); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
	}
	if dir == "" {
		return ks, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".key" {
			continue
		}
		if _, err := ks.AddKeyFile(filepath.Join(dir, e.Name())); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return ks, nil
}
