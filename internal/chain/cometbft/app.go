// Package cometbft adapts a CometBFT ABCI application into a chain.Source.
// Signing requests and authority changes arrive as ledger transactions;
// every committed block is handed to the worker as a finalized block.
package cometbft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/crypto"

	"proofnet/internal/chain"
	"proofnet/internal/logging"
	"proofnet/internal/storage"
	"proofnet/internal/types"
	"proofnet/internal/wire"
)

const (
	codeOK uint32 = iota
	codeMalformed
	codeNoValidatorSet
	codeStaleSet
	codeNotFound
	codeUnknownPath
)

// GenesisState is the app_state section of the CometBFT genesis file.
type GenesisState struct {
	ValidatorSet types.ValidatorSet `json:"validator_set"`
}

// AppConfig contains configuration for creating an App
type AppConfig struct {
	// Store serves proof queries. Optional.
	Store storage.Store
	// RecentBlocks bounds the history served through Block.
	RecentBlocks int
	// FinalizedBuffer is the capacity of the finalized block channel.
	FinalizedBuffer int
	Logger          logging.Logger
}

// App implements the ABCI Application interface and chain.Source.
type App struct {
	mu sync.RWMutex

	logger logging.Logger
	store  storage.Store

	current *types.ValidatorSet
	// announce is the genesis set, attached to the first finalized block.
	announce *types.ValidatorSet

	pending           *chain.Block
	latestBlockHeight int64
	latestAppHash     []byte

	history   *chain.History
	finalized chan chain.Block
}

var _ abci.Application = (*App)(nil)
var _ chain.Source = (*App)(nil)

// NewApp creates a new ABCI application
func NewApp(config AppConfig) *App {
	if config.Logger == nil {
		config.Logger = logging.NewDefaultLogger()
	}
	if config.RecentBlocks <= 0 {
		config.RecentBlocks = 256
	}
	if config.FinalizedBuffer <= 0 {
		config.FinalizedBuffer = 64
	}
	return &App{
		logger:    config.Logger,
		store:     config.Store,
		history:   chain.NewHistory(config.RecentBlocks),
		finalized: make(chan chain.Block, config.FinalizedBuffer),
	}
}

func (app *App) Finalized() <-chan chain.Block { return app.finalized }

func (app *App) Block(ctx context.Context, number uint64) (chain.Block, error) {
	if err := ctx.Err(); err != nil {
		return chain.Block{}, err
	}
	b, ok := app.history.Get(number)
	if !ok {
		return chain.Block{}, fmt.Errorf("%w: height %d", chain.ErrBlockNotFound, number)
	}
	return b, nil
}

// ValidatorSet returns the set active for the next block.
func (app *App) ValidatorSet() *types.ValidatorSet {
	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.current == nil {
		return nil
	}
	return app.current.Clone()
}

// Info returns information about the application state
func (app *App) Info(ctx context.Context, req *abci.RequestInfo) (*abci.ResponseInfo, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	return &abci.ResponseInfo{
		Data:             "proofnet",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  app.latestBlockHeight,
		LastBlockAppHash: app.latestAppHash,
	}, nil
}

// InitChain loads the genesis validator set from app_state.
func (app *App) InitChain(ctx context.Context, req *abci.RequestInitChain) (*abci.ResponseInitChain, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.logger.Info("Initializing chain", "chain_id", req.ChainId)

	if len(req.AppStateBytes) == 0 {
		app.logger.Warn("Genesis carries no validator set, waiting for an authorities change")
		return &abci.ResponseInitChain{}, nil
	}
	var genesis GenesisState
	if err := json.Unmarshal(req.AppStateBytes, &genesis); err != nil {
		return nil, fmt.Errorf("invalid genesis app state: %w", err)
	}
	if err := genesis.ValidatorSet.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis validator set: %w", err)
	}
	app.current = genesis.ValidatorSet.Clone()
	app.announce = app.current.Clone()

	app.logger.Info("Genesis validator set loaded",
		"set_id", app.current.ID,
		"validators", app.current.Len())
	return &abci.ResponseInitChain{}, nil
}

// CheckTx validates a transaction before adding it to mempool
func (app *App) CheckTx(ctx context.Context, req *abci.RequestCheckTx) (*abci.ResponseCheckTx, error) {
	_, body, err := wire.DecodeTx(req.Tx)
	if err != nil {
		return &abci.ResponseCheckTx{Code: codeMalformed, Log: err.Error()}, nil
	}
	if change, ok := body.(*wire.AuthoritiesChangeTx); ok {
		app.mu.RLock()
		current := app.current
		app.mu.RUnlock()
		if current != nil && change.Set.ID <= current.ID {
			return &abci.ResponseCheckTx{Code: codeStaleSet, Log: fmt.Sprintf("set %d not newer than %d", change.Set.ID, current.ID)}, nil
		}
	}
	return &abci.ResponseCheckTx{Code: codeOK}, nil
}

// FinalizeBlock applies authority changes first, so every request in a
// block is stamped with the set active once the block is applied.
func (app *App) FinalizeBlock(ctx context.Context, req *abci.RequestFinalizeBlock) (*abci.ResponseFinalizeBlock, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.latestBlockHeight = req.Height
	block := &chain.Block{
		Number: uint64(req.Height),
		Hash:   common.BytesToHash(req.Hash),
	}

	txResults := make([]*abci.ExecTxResult, len(req.Txs))
	requests := make(map[int]*wire.SigningRequestTx)

	for i, tx := range req.Txs {
		_, body, err := wire.DecodeTx(tx)
		if err != nil {
			txResults[i] = &abci.ExecTxResult{Code: codeMalformed, Log: err.Error()}
			continue
		}
		switch v := body.(type) {
		case *wire.AuthoritiesChangeTx:
			txResults[i] = app.deliverAuthoritiesChange(block, v)
		case *wire.SigningRequestTx:
			requests[i] = v
		}
	}

	for i := range req.Txs {
		sr, ok := requests[i]
		if !ok {
			continue
		}
		if app.current == nil {
			txResults[i] = &abci.ExecTxResult{Code: codeNoValidatorSet, Log: "no active validator set"}
			continue
		}
		block.Requests = append(block.Requests, types.WitnessRequest{
			RequestID:   sr.RequestID,
			ChainID:     sr.ChainID,
			Payload:     append([]byte(nil), sr.Payload...),
			SetID:       app.current.ID,
			BlockHash:   block.Hash,
			BlockNumber: block.Number,
		})
		txResults[i] = &abci.ExecTxResult{Code: codeOK}
	}

	if block.ValidatorSet == nil && app.announce != nil {
		block.ValidatorSet = app.announce
	}
	app.announce = nil
	app.pending = block
	app.latestAppHash = app.computeAppHash(block)

	app.logger.Debug("Finalized block",
		"height", req.Height,
		"requests", len(block.Requests))

	return &abci.ResponseFinalizeBlock{
		TxResults: txResults,
		AppHash:   app.latestAppHash,
	}, nil
}

func (app *App) deliverAuthoritiesChange(block *chain.Block, change *wire.AuthoritiesChangeTx) *abci.ExecTxResult {
	if app.current != nil && change.Set.ID <= app.current.ID {
		return &abci.ExecTxResult{Code: codeStaleSet, Log: fmt.Sprintf("set %d not newer than %d", change.Set.ID, app.current.ID)}
	}
	app.current = change.Set.Clone()
	block.ValidatorSet = app.current.Clone()

	app.logger.Info("Validator set changed",
		"set_id", app.current.ID,
		"validators", app.current.Len(),
		"height", block.Number)
	return &abci.ExecTxResult{Code: codeOK}
}

// computeAppHash chains the previous hash with the block's set id and
// request ids.
func (app *App) computeAppHash(block *chain.Block) []byte {
	summary := struct {
		Prev     []byte   `json:"prev"`
		Height   uint64   `json:"height"`
		SetID    uint64   `json:"set_id"`
		Requests []uint64 `json:"requests"`
	}{Prev: app.latestAppHash, Height: block.Number}
	if app.current != nil {
		summary.SetID = uint64(app.current.ID)
	}
	for _, r := range block.Requests {
		summary.Requests = append(summary.Requests, r.RequestID)
	}
	data, _ := json.Marshal(summary)
	return geth.Keccak256(data)
}

// Commit hands the finalized block to the worker. A full channel drops the
// notification; the worker backfills the gap from history.
func (app *App) Commit(ctx context.Context, req *abci.RequestCommit) (*abci.ResponseCommit, error) {
	app.mu.Lock()
	block := app.pending
	app.pending = nil
	app.mu.Unlock()

	if block == nil {
		return &abci.ResponseCommit{}, nil
	}
	app.history.Add(*block)

	select {
	case app.finalized <- *block:
	default:
		app.logger.Warn("Finalized channel full, block left for backfill", "height", block.Number)
	}
	return &abci.ResponseCommit{RetainHeight: 0}, nil
}

func (app *App) Query(ctx context.Context, req *abci.RequestQuery) (*abci.ResponseQuery, error) {
	switch {
	case strings.HasPrefix(req.Path, "/proof/"):
		return app.queryProof(strings.TrimPrefix(req.Path, "/proof/")), nil

	case req.Path == "/validator_set/latest":
		app.mu.RLock()
		current := app.current
		app.mu.RUnlock()
		if current == nil {
			return &abci.ResponseQuery{Code: codeNoValidatorSet, Log: "no validator set"}, nil
		}
		data, err := json.Marshal(current)
		if err != nil {
			return &abci.ResponseQuery{Code: codeMalformed, Log: err.Error()}, nil
		}
		return &abci.ResponseQuery{Code: codeOK, Value: data}, nil

	case strings.HasPrefix(req.Path, "/validator_set/"):
		return app.queryValidatorSet(strings.TrimPrefix(req.Path, "/validator_set/")), nil

	default:
		return &abci.ResponseQuery{Code: codeUnknownPath, Log: "unknown query path"}, nil
	}
}

func (app *App) queryProof(raw string) *abci.ResponseQuery {
	if app.store == nil {
		return &abci.ResponseQuery{Code: codeNotFound, Log: "proof store not configured"}
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return &abci.ResponseQuery{Code: codeMalformed, Log: fmt.Sprintf("invalid request id %q", raw)}
	}
	proof, err := app.store.GetProof(id)
	if errors.Is(err, storage.ErrNotFound) {
		return &abci.ResponseQuery{Code: codeNotFound, Log: "proof not found"}
	}
	if err != nil {
		return &abci.ResponseQuery{Code: codeNotFound, Log: err.Error()}
	}
	data, err := wire.EncodeProof(proof)
	if err != nil {
		return &abci.ResponseQuery{Code: codeMalformed, Log: err.Error()}
	}
	return &abci.ResponseQuery{Code: codeOK, Key: []byte(raw), Value: data}
}

func (app *App) queryValidatorSet(raw string) *abci.ResponseQuery {
	if app.store == nil {
		return &abci.ResponseQuery{Code: codeNotFound, Log: "proof store not configured"}
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return &abci.ResponseQuery{Code: codeMalformed, Log: fmt.Sprintf("invalid set id %q", raw)}
	}
	set, err := app.store.GetValidatorSet(types.SetID(id))
	if err != nil {
		return &abci.ResponseQuery{Code: codeNotFound, Log: err.Error()}
	}
	data, err := json.Marshal(set)
	if err != nil {
		return &abci.ResponseQuery{Code: codeMalformed, Log: err.Error()}
	}
	return &abci.ResponseQuery{Code: codeOK, Value: data}
}

// PrepareProposal drops transactions that would fail to decode.
func (app *App) PrepareProposal(ctx context.Context, req *abci.RequestPrepareProposal) (*abci.ResponsePrepareProposal, error) {
	txs := make([][]byte, 0, len(req.Txs))
	var size int64
	for _, tx := range req.Txs {
		if _, _, err := wire.DecodeTx(tx); err != nil {
			continue
		}
		if req.MaxTxBytes > 0 && size+int64(len(tx)) > req.MaxTxBytes {
			break
		}
		size += int64(len(tx))
		txs = append(txs, tx)
	}
	return &abci.ResponsePrepareProposal{Txs: txs}, nil
}

func (app *App) ProcessProposal(ctx context.Context, req *abci.RequestProcessProposal) (*abci.ResponseProcessProposal, error) {
	for _, tx := range req.Txs {
		if _, _, err := wire.DecodeTx(tx); err != nil {
			app.logger.Warn("Rejecting proposal with malformed tx", "height", req.Height, "error", err)
			return &abci.ResponseProcessProposal{Status: abci.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abci.ResponseProcessProposal{Status: abci.ResponseProcessProposal_ACCEPT}, nil
}

func (app *App) ExtendVote(ctx context.Context, req *abci.RequestExtendVote) (*abci.ResponseExtendVote, error) {
	return &abci.ResponseExtendVote{}, nil
}

func (app *App) VerifyVoteExtension(ctx context.Context, req *abci.RequestVerifyVoteExtension) (*abci.ResponseVerifyVoteExtension, error) {
	return &abci.ResponseVerifyVoteExtension{Status: abci.ResponseVerifyVoteExtension_ACCEPT}, nil
}

func (app *App) ListSnapshots(ctx context.Context, req *abci.RequestListSnapshots) (*abci.ResponseListSnapshots, error) {
	return &abci.ResponseListSnapshots{}, nil
}

func (app *App) OfferSnapshot(ctx context.Context, req *abci.RequestOfferSnapshot) (*abci.ResponseOfferSnapshot, error) {
	return &abci.ResponseOfferSnapshot{Result: abci.ResponseOfferSnapshot_REJECT}, nil
}

func (app *App) LoadSnapshotChunk(ctx context.Context, req *abci.RequestLoadSnapshotChunk) (*abci.ResponseLoadSnapshotChunk, error) {
	return &abci.ResponseLoadSnapshotChunk{}, nil
}

func (app *App) ApplySnapshotChunk(ctx context.Context, req *abci.RequestApplySnapshotChunk) (*abci.ResponseApplySnapshotChunk, error) {
	return &abci.ResponseApplySnapshotChunk{Result: abci.ResponseApplySnapshotChunk_ABORT}, nil
}
