package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"proofnet/internal/crypto"
	"proofnet/internal/logging"
	"proofnet/internal/notify"
	"proofnet/internal/storage"
	"proofnet/internal/types"
)

const maxMsgSize = 10 * 1024 * 1024

// ProofView is the client facing form of a proof. Signatures has one slot
// per validator in set order; validators that did not sign get an empty slot.
type ProofView struct {
	RequestID   uint64           `json:"request_id"`
	Chain       string           `json:"chain"`
	SetID       types.SetID      `json:"set_id"`
	BlockHash   common.Hash      `json:"block_hash"`
	BlockNumber uint64           `json:"block_number"`
	Payload     hexutil.Bytes    `json:"payload"`
	Digest      hexutil.Bytes    `json:"digest,omitempty"`
	Signatures  []hexutil.Bytes  `json:"signatures"`
	Validators  []common.Address `json:"validators"`
}

// XRPLSignature is one co-signer entry of an XRPL multisig.
type XRPLSignature struct {
	Signer  types.PublicKey `json:"signer"`
	Account hexutil.Bytes   `json:"account"`
	Digest  hexutil.Bytes   `json:"digest"`
	DER     hexutil.Bytes   `json:"der"`
}

type XRPLProofView struct {
	RequestID   uint64          `json:"request_id"`
	SetID       types.SetID     `json:"set_id"`
	BlockHash   common.Hash     `json:"block_hash"`
	BlockNumber uint64          `json:"block_number"`
	Payload     hexutil.Bytes   `json:"payload"`
	Signatures  []XRPLSignature `json:"signatures"`
}

type Config struct {
	// SubscriberBuffer is the broker queue length per stream.
	SubscriberBuffer int
}

// Server serves stored proofs and live proof notifications.
type Server struct {
	store  storage.Store
	broker *notify.Broker
	cfg    Config
	logger logging.Logger

	server   *grpc.Server
	done     chan struct{}
	stopOnce sync.Once
}

func NewServer(store storage.Store, broker *notify.Broker, cfg Config, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Component("rpc")
	}
	return &Server{
		store:  store,
		broker: broker,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start serves on lis in the background.
func (s *Server) Start(lis net.Listener) {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ChainUnaryInterceptor(RecoveryUnaryInterceptor(s.logger), LoggingUnaryInterceptor(s.logger)),
		grpc.ChainStreamInterceptor(RecoveryStreamInterceptor(s.logger), LoggingStreamInterceptor(s.logger)),
	}
	s.server = grpc.NewServer(opts...)
	RegisterProofServiceServer(s.server, s)

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Errorf("gRPC server failed: %v", err)
		}
	}()
	s.logger.Infof("gRPC proof service listening on %s", lis.Addr())
}

// Stop ends open subscriptions and waits for in-flight calls.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	if s.server != nil {
		s.server.GracefulStop()
	}
}

func (s *Server) GetProof(_ context.Context, req *wrapperspb.UInt64Value) (*wrapperspb.BytesValue, error) {
	p, err := s.loadProof(req.GetValue())
	if err != nil {
		return nil, err
	}
	return marshalView(s.proofView(p))
}

func (s *Server) GetXRPLProof(_ context.Context, req *wrapperspb.UInt64Value) (*wrapperspb.BytesValue, error) {
	p, err := s.loadProof(req.GetValue())
	if err != nil {
		return nil, err
	}
	if p.ChainID != types.ChainXRPL {
		return nil, status.Errorf(codes.InvalidArgument, "request %d targets %s", p.RequestID, p.ChainID)
	}
	set, err := s.store.GetValidatorSet(p.SetID)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "validator set %d: %v", p.SetID, err)
	}
	view, err := xrplView(p, set)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return marshalView(view)
}

func (s *Server) SubscribeProofs(_ *emptypb.Empty, stream ProofService_SubscribeProofsServer) error {
	sub := s.broker.Subscribe(s.cfg.SubscriberBuffer)
	defer sub.Close()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server shutting down")
		case p, ok := <-sub.C:
			if !ok {
				return status.Error(codes.Unavailable, "notifications closed")
			}
			msg, err := marshalView(s.proofView(p))
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) loadProof(id uint64) (*types.Proof, error) {
	p, err := s.store.GetProof(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "no proof for request %d", id)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return p, nil
}

// proofView expands p against its validator set. When the set is unknown
// the signature slots stop at the highest signer and no addresses are given.
func (s *Server) proofView(p *types.Proof) ProofView {
	view := ProofView{
		RequestID:   p.RequestID,
		Chain:       p.ChainID.String(),
		SetID:       p.SetID,
		BlockHash:   p.BlockHash,
		BlockNumber: p.BlockNumber,
		Payload:     p.Payload,
		Digest:      p.Digest,
	}
	slots := 0
	if set, err := s.store.GetValidatorSet(p.SetID); err == nil {
		view.Validators = crypto.DeriveAddresses(set.Validators)
		slots = set.Len()
	} else {
		s.logger.Warnf("proof %d: validator set %d unavailable: %v", p.RequestID, p.SetID, err)
	}
	for _, sig := range p.Signatures {
		if int(sig.ValidatorIndex) >= slots {
			slots = int(sig.ValidatorIndex) + 1
		}
	}
	view.Signatures = make([]hexutil.Bytes, slots)
	for i := range view.Signatures {
		view.Signatures[i] = hexutil.Bytes{}
	}
	for _, sig := range p.Signatures {
		view.Signatures[sig.ValidatorIndex] = sig.Signature.Bytes()
	}
	return view
}

func xrplView(p *types.Proof, set *types.ValidatorSet) (XRPLProofView, error) {
	view := XRPLProofView{
		RequestID:   p.RequestID,
		SetID:       p.SetID,
		BlockHash:   p.BlockHash,
		BlockNumber: p.BlockNumber,
		Payload:     p.Payload,
	}
	for _, sig := range p.Signatures {
		pub, ok := set.Validator(sig.ValidatorIndex)
		if !ok {
			return view, fmt.Errorf("signer %d outside set %d", sig.ValidatorIndex, set.ID)
		}
		der, err := crypto.DERSignature(sig.Signature)
		if err != nil {
			return view, fmt.Errorf("signer %d: %w", sig.ValidatorIndex, err)
		}
		account := crypto.XRPLAccountID(pub)
		view.Signatures = append(view.Signatures, XRPLSignature{
			Signer:  pub,
			Account: account[:],
			Digest:  sig.Digest,
			DER:     der,
		})
	}
	return view, nil
}

func marshalView(v interface{}) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}
