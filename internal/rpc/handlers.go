package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
	"wimble.dev/node/internal/wire"
)

// NodeVersion is reported by get_version. Bumped alongside wire-format
// or slate-version changes.
const NodeVersion = "wimble-node/0.1"

// Services is the set of service handles an RPC handler closure may
// capture, grounded on original_source's NodeServer.cpp taking a
// BlockChain + TxPool reference at construction.
type Services struct {
	Chain       ChainReader
	Pool        TransactionAcceptor
	GenesisHash crypto.Hash
}

// ChainReader is the read surface internal/chain.Chain exposes to RPC.
type ChainReader interface {
	Head() chaintypes.BlockHeader
	HeaderByHash(hash crypto.Hash) (chaintypes.BlockHeader, bool)
	BlockByHash(hash crypto.Hash) (chaintypes.FullBlock, bool, error)
}

// TransactionAcceptor is the write surface internal/txpool.Pool exposes
// to RPC's push_transaction.
type TransactionAcceptor interface {
	AcceptMain(tx chaintypes.Transaction) error
}

type hashParams struct {
	Hash string `json:"hash"`
}

func parseHash(params json.RawMessage, field string) (crypto.Hash, error) {
	var p hashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return crypto.Hash{}, invalidParams(fmt.Errorf("%s: %w", field, err))
	}
	raw, err := hex.DecodeString(p.Hash)
	if err != nil || len(raw) != len(crypto.Hash{}) {
		return crypto.Hash{}, invalidParams(fmt.Errorf("%s: expected %d-byte hex hash", field, len(crypto.Hash{})))
	}
	var h crypto.Hash
	copy(h[:], raw)
	return h, nil
}

func handleGetHeader(svc Services) Handler {
	return func(params json.RawMessage) (any, error) {
		hash, err := parseHash(params, "hash")
		if err != nil {
			return nil, err
		}
		h, ok := svc.Chain.HeaderByHash(hash)
		if !ok {
			return nil, ErrNotFound
		}
		return headerJSON(h), nil
	}
}

func handleGetBlock(svc Services) Handler {
	return func(params json.RawMessage) (any, error) {
		hash, err := parseHash(params, "hash")
		if err != nil {
			return nil, err
		}
		blk, ok, err := svc.Chain.BlockByHash(hash)
		if err != nil {
			return nil, asConsensusRejection(err)
		}
		if !ok {
			return nil, ErrNotFound
		}
		w := wire.NewWriter()
		blk.Encode(w)
		return map[string]any{
			"header":    headerJSON(blk.Header),
			"body_hex":  hex.EncodeToString(w.Bytes()),
			"n_inputs":  len(blk.Body.Inputs),
			"n_outputs": len(blk.Body.Outputs),
			"n_kernels": len(blk.Body.Kernels),
		}, nil
	}
}

func handleGetVersion(svc Services) Handler {
	return func(params json.RawMessage) (any, error) {
		return map[string]any{
			"version":      NodeVersion,
			"genesis_hash": hex.EncodeToString(svc.GenesisHash[:]),
		}, nil
	}
}

func handleGetTip(svc Services) Handler {
	return func(params json.RawMessage) (any, error) {
		return headerJSON(svc.Chain.Head()), nil
	}
}

type pushTransactionParams struct {
	TxHex string `json:"tx_hex"`
}

func handlePushTransaction(svc Services) Handler {
	return func(params json.RawMessage) (any, error) {
		var p pushTransactionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(fmt.Errorf("tx_hex: %w", err))
		}
		raw, err := hex.DecodeString(p.TxHex)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("tx_hex: %w", err))
		}
		tx, err := decodeTransaction(raw)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("tx_hex: %w", err))
		}
		if err := svc.Pool.AcceptMain(tx); err != nil {
			return nil, asConsensusRejection(err)
		}
		return map[string]any{"accepted": true}, nil
	}
}

// decodeTransaction reads the wire form cmd/bw-wallet's slate finalizer
// produces: the 32-byte kernel offset followed by an encoded
// TransactionBody, the same layout FinalizeSlate's Transaction carries
// in memory.
func decodeTransaction(raw []byte) (chaintypes.Transaction, error) {
	r := wire.NewReader(raw)
	offsetBytes, err := r.Bytes(32)
	if err != nil {
		return chaintypes.Transaction{}, err
	}
	body, err := chaintypes.DecodeBody(r)
	if err != nil {
		return chaintypes.Transaction{}, err
	}
	if err := r.Finish(); err != nil {
		return chaintypes.Transaction{}, corerr.BadData(corerr.RuleTrailingBytes)
	}
	var tx chaintypes.Transaction
	copy(tx.Offset[:], offsetBytes)
	tx.Body = body
	return tx, nil
}

// EncodeTransaction is the inverse of decodeTransaction, used by
// cmd/bw-wallet to build the tx_hex push_transaction expects.
func EncodeTransaction(tx chaintypes.Transaction) string {
	w := wire.NewWriter()
	w.Raw(tx.Offset[:])
	tx.Body.Encode(w)
	return hex.EncodeToString(w.Bytes())
}

func headerJSON(h chaintypes.BlockHeader) map[string]any {
	hash := h.Hash()
	return map[string]any{
		"hash":             hex.EncodeToString(hash[:]),
		"prev_hash":        hex.EncodeToString(h.PrevHash[:]),
		"height":           h.Height,
		"timestamp":        h.Timestamp,
		"total_difficulty": h.TotalDifficulty,
	}
}
