package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"proofnet/internal/crypto"
	"proofnet/internal/notify"
	"proofnet/internal/storage"
	"proofnet/internal/types"
)

type fixture struct {
	store  *storage.KVStore
	broker *notify.Broker
	client *Client
	keys   *crypto.MemoryKeystore
	set    *types.ValidatorSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logrus.SetLevel(logrus.ErrorLevel)

	keys := crypto.NewMemoryKeystore()
	set := &types.ValidatorSet{ID: 3}
	for i := 0; i < 3; i++ {
		pub, err := keys.Generate()
		require.NoError(t, err)
		set.Validators = append(set.Validators, pub)
	}
	set.XRPLSigners = []types.PublicKey{set.Validators[0], set.Validators[2]}

	store := storage.NewInMemory()
	require.NoError(t, store.PutValidatorSet(set))
	broker := notify.NewBroker(nil)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(store, broker, Config{SubscriberBuffer: 4}, nil)
	srv.Start(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		broker.Close()
	})
	return &fixture{store: store, broker: broker, client: NewClient(conn), keys: keys, set: set}
}

func (f *fixture) sign(t *testing.T, chain types.ChainID, payload []byte, idx uint16) types.IndexedSignature {
	t.Helper()
	pub := f.set.Validators[idx]
	digest, err := crypto.Digest(chain, payload, pub)
	require.NoError(t, err)
	sig, err := f.keys.Sign(context.Background(), pub, digest)
	require.NoError(t, err)
	entry := types.IndexedSignature{ValidatorIndex: idx, Signature: sig}
	if chain == types.ChainXRPL {
		entry.Digest = digest[:]
	}
	return entry
}

func (f *fixture) ethProof(t *testing.T, id uint64) *types.Proof {
	payload := make([]byte, 32)
	payload[0] = byte(id)
	return &types.Proof{
		Version:     types.ProofVersion,
		RequestID:   id,
		ChainID:     types.ChainEthereum,
		SetID:       f.set.ID,
		BlockNumber: 12,
		Payload:     payload,
		Signatures: []types.IndexedSignature{
			f.sign(t, types.ChainEthereum, payload, 0),
			f.sign(t, types.ChainEthereum, payload, 2),
		},
	}
}

func TestGetProofExpandsSignatures(t *testing.T) {
	f := newFixture(t)
	p := f.ethProof(t, 5)
	require.NoError(t, f.store.PutProof(p))

	view, err := f.client.GetProof(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), view.RequestID)
	assert.Equal(t, "ethereum", view.Chain)
	assert.Equal(t, types.SetID(3), view.SetID)
	assert.Equal(t, uint64(12), view.BlockNumber)

	require.Len(t, view.Signatures, 3)
	assert.Equal(t, p.Signatures[0].Signature.Bytes(), []byte(view.Signatures[0]))
	assert.Empty(t, view.Signatures[1])
	assert.Equal(t, p.Signatures[1].Signature.Bytes(), []byte(view.Signatures[2]))

	require.Len(t, view.Validators, 3)
	assert.Equal(t, crypto.DeriveAddress(f.set.Validators[1]), view.Validators[1])
}

func TestGetProofNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.GetProof(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGetXRPLProof(t *testing.T) {
	f := newFixture(t)
	payload := []byte{0x12, 0x00, 0x00, 0x22}
	p := &types.Proof{
		Version:   types.ProofVersion,
		RequestID: 8,
		ChainID:   types.ChainXRPL,
		SetID:     f.set.ID,
		Payload:   payload,
		Signatures: []types.IndexedSignature{
			f.sign(t, types.ChainXRPL, payload, 0),
			f.sign(t, types.ChainXRPL, payload, 2),
		},
	}
	require.NoError(t, f.store.PutProof(p))

	view, err := f.client.GetXRPLProof(context.Background(), 8)
	require.NoError(t, err)
	require.Len(t, view.Signatures, 2)

	second := view.Signatures[1]
	assert.Equal(t, f.set.Validators[2], second.Signer)
	account := crypto.XRPLAccountID(f.set.Validators[2])
	assert.Equal(t, account[:], []byte(second.Account))
	assert.Equal(t, []byte(p.Signatures[1].Digest), []byte(second.Digest))
	assert.Equal(t, byte(0x30), second.DER[0], "DER sequence tag")

	// Ethereum proofs have no XRPL form.
	require.NoError(t, f.store.PutProof(f.ethProof(t, 9)))
	_, err = f.client.GetXRPLProof(context.Background(), 9)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSubscribeProofs(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := f.client.SubscribeProofs(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.broker.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.broker.Publish(f.ethProof(t, 21))
	f.broker.Publish(f.ethProof(t, 22))

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(21), first.RequestID)
	assert.Len(t, first.Signatures, 3)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(22), second.RequestID)

	cancel()
	require.Eventually(t, func() bool { return f.broker.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRecoveryInterceptor(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	intercept := RecoveryUnaryInterceptor(logger)
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: methodGetProof},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}
