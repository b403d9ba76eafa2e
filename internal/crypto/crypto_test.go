package crypto

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	geth "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofnet/internal/types"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestSignAndVerify(t *testing.T) {
	ks := NewMemoryKeystore()
	pub, err := ks.AddHex(testKeyHex)
	require.NoError(t, err)

	digest := HashMessage([]byte("witness"))
	sig, err := ks.Sign(context.Background(), pub, digest)
	require.NoError(t, err)

	assert.True(t, Verify(pub, digest[:], sig))

	other := HashMessage([]byte("other"))
	assert.False(t, Verify(pub, other[:], sig))

	bad := sig
	bad[64] = 27
	assert.False(t, Verify(pub, digest[:], bad))
	assert.False(t, Verify(pub, digest[:10], sig))
}

func TestSignUnknownKey(t *testing.T) {
	ks := NewMemoryKeystore()
	var pub types.PublicKey
	_, err := ks.Sign(context.Background(), pub, [32]byte{})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAuthorityKey(t *testing.T) {
	ks := NewMemoryKeystore()
	mine, err := ks.Generate()
	require.NoError(t, err)

	other := NewMemoryKeystore()
	theirs, err := other.Generate()
	require.NoError(t, err)

	got, ok := ks.AuthorityKey([]types.PublicKey{theirs, mine})
	require.True(t, ok)
	assert.Equal(t, mine, got)

	_, ok = ks.AuthorityKey([]types.PublicKey{theirs})
	assert.False(t, ok)
}

func TestDeriveAddressMatchesGeth(t *testing.T) {
	priv, err := geth.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	pub := CompressPublicKey(&priv.PublicKey)

	assert.Equal(t, geth.PubkeyToAddress(priv.PublicKey), DeriveAddress(pub))
	// deterministic
	assert.Equal(t, DeriveAddress(pub), DeriveAddress(pub))

	var junk types.PublicKey
	junk[0] = 0x05
	assert.Equal(t, [20]byte{}, [20]byte(DeriveAddress(junk)))
}

func TestDigestEthereum(t *testing.T) {
	payload := HashMessage([]byte("event"))
	var pub types.PublicKey
	d, err := Digest(types.ChainEthereum, payload[:], pub)
	require.NoError(t, err)
	assert.Equal(t, payload, d)

	_, err = Digest(types.ChainEthereum, []byte{1, 2, 3}, pub)
	assert.ErrorIs(t, err, ErrDigestInput)

	_, err = Digest(types.ChainID(9), payload[:], pub)
	assert.ErrorIs(t, err, ErrDigestInput)
}

func TestDigestXRPLIsPerSigner(t *testing.T) {
	ks := NewMemoryKeystore()
	a, err := ks.Generate()
	require.NoError(t, err)
	b, err := ks.Generate()
	require.NoError(t, err)

	tx := []byte{0x12, 0x00, 0x00, 0x22}
	da, err := Digest(types.ChainXRPL, tx, a)
	require.NoError(t, err)
	db, err := Digest(types.ChainXRPL, tx, b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)

	again, err := Digest(types.ChainXRPL, tx, a)
	require.NoError(t, err)
	assert.Equal(t, da, again)
}

func TestXRPLAccountIDKnownVector(t *testing.T) {
	// rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh, the XRPL genesis account
	raw, err := hex.DecodeString("0330E7FC9D56BB25D6893BA3F317AE5BCF33B3291BD63DB32654A313222F7FD020")
	require.NoError(t, err)
	var pub types.PublicKey
	copy(pub[:], raw)

	id := XRPLAccountID(pub)
	assert.Equal(t, "b5f762798a53d543a014caf8b297cff8f2f937e8", hex.EncodeToString(id[:]))
}

func TestDERSignatureLowS(t *testing.T) {
	ks := NewMemoryKeystore()
	pub, err := ks.AddHex(testKeyHex)
	require.NoError(t, err)
	digest := HashMessage([]byte("xrpl"))
	sig, err := ks.Sign(context.Background(), pub, digest)
	require.NoError(t, err)

	der, err := DERSignature(sig)
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), der[0])
	assert.Equal(t, int(der[1]), len(der)-2)

	_, err = DERSignature(types.Signature{})
	assert.Error(t, err)
}

func TestLoadKeystore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node.key"), []byte(testKeyHex), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o600))

	ks, err := LoadKeystore(nil, dir)
	require.NoError(t, err)
	assert.Len(t, ks.Keys(), 1)

	_, err = LoadKeystore([]string{"zz"}, "")
	assert.Error(t, err)
}
