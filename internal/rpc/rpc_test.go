package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/corerr"
	"wimble.dev/node/internal/crypto"
)

type stubChain struct {
	head    chaintypes.BlockHeader
	headers map[crypto.Hash]chaintypes.BlockHeader
	blocks  map[crypto.Hash]chaintypes.FullBlock
}

func (s *stubChain) Head() chaintypes.BlockHeader { return s.head }
func (s *stubChain) HeaderByHash(hash crypto.Hash) (chaintypes.BlockHeader, bool) {
	h, ok := s.headers[hash]
	return h, ok
}
func (s *stubChain) BlockByHash(hash crypto.Hash) (chaintypes.FullBlock, bool, error) {
	b, ok := s.blocks[hash]
	return b, ok, nil
}

type stubPool struct {
	acceptErr error
	accepted  []chaintypes.Transaction
}

func (s *stubPool) AcceptMain(tx chaintypes.Transaction) error {
	if s.acceptErr != nil {
		return s.acceptErr
	}
	s.accepted = append(s.accepted, tx)
	return nil
}

func newTestServices() (Services, *stubChain, *stubPool) {
	genesis := chaintypes.BlockHeader{Height: 0, Timestamp: 1000, TotalDifficulty: 1}
	hash := genesis.Hash()
	sc := &stubChain{
		head:    genesis,
		headers: map[crypto.Hash]chaintypes.BlockHeader{hash: genesis},
		blocks:  map[crypto.Hash]chaintypes.FullBlock{hash: {Header: genesis}},
	}
	sp := &stubPool{}
	return Services{Chain: sc, Pool: sp, GenesisHash: hash}, sc, sp
}

func TestDispatchGetTipReturnsHead(t *testing.T) {
	svc, sc, _ := newTestServices()
	table := NewTable(svc)

	resp := Dispatch(table, Request{Method: "get_tip"})
	require.Nil(t, resp.Error)
	m := resp.Result.(map[string]any)
	require.Equal(t, sc.head.Height, m["height"])
}

func TestDispatchGetHeaderFound(t *testing.T) {
	svc, sc, _ := newTestServices()
	table := NewTable(svc)

	hash := sc.head.Hash()
	params, _ := json.Marshal(hashParams{Hash: hexEncode(hash)})
	resp := Dispatch(table, Request{Method: "get_header", Params: params})
	require.Nil(t, resp.Error)
}

func TestDispatchGetHeaderNotFound(t *testing.T) {
	svc, _, _ := newTestServices()
	table := NewTable(svc)

	var unknown crypto.Hash
	params, _ := json.Marshal(hashParams{Hash: hexEncode(unknown)})
	resp := Dispatch(table, Request{Method: "get_header", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestDispatchUnknownMethod(t *testing.T) {
	svc, _, _ := newTestServices()
	table := NewTable(svc)

	resp := Dispatch(table, Request{Method: "get_nonsense"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeUnknownMethod, resp.Error.Code)
}

func TestDispatchGetHeaderMalformedParams(t *testing.T) {
	svc, _, _ := newTestServices()
	table := NewTable(svc)

	resp := Dispatch(table, Request{Method: "get_header", Params: json.RawMessage(`{"hash":"zz"}`)})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDecodeRequestRejectsMalformedJSON(t *testing.T) {
	_, errResp := DecodeRequest([]byte(`not json`))
	require.NotNil(t, errResp)
	require.Equal(t, CodeMalformed, errResp.Error.Code)
}

func TestDecodeRequestRejectsMissingMethod(t *testing.T) {
	_, errResp := DecodeRequest([]byte(`{"params":{}}`))
	require.NotNil(t, errResp)
	require.Equal(t, CodeMalformed, errResp.Error.Code)
}

func TestPushTransactionRoundTripsThroughEncodeDecode(t *testing.T) {
	svc, _, sp := newTestServices()
	table := NewTable(svc)

	tx := chaintypes.Transaction{
		Body: chaintypes.TransactionBody{
			Kernels: []chaintypes.TransactionKernel{{Fee: 100}},
		},
	}
	txHex := EncodeTransaction(tx)
	params, _ := json.Marshal(pushTransactionParams{TxHex: txHex})

	resp := Dispatch(table, Request{Method: "push_transaction", Params: params})
	require.Nil(t, resp.Error)
	require.Len(t, sp.accepted, 1)
	require.Equal(t, uint64(100), sp.accepted[0].Body.Kernels[0].Fee)
}

func TestPushTransactionRejectsPoolError(t *testing.T) {
	svc, _, sp := newTestServices()
	sp.acceptErr = corerr.BadData(corerr.RuleFeeTooLow)
	table := NewTable(svc)

	tx := chaintypes.Transaction{}
	params, _ := json.Marshal(pushTransactionParams{TxHex: EncodeTransaction(tx)})

	resp := Dispatch(table, Request{Method: "push_transaction", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeConsensusRejection, resp.Error.Code)
}

func TestPushTransactionRejectsInvalidHex(t *testing.T) {
	svc, _, _ := newTestServices()
	table := NewTable(svc)

	params, _ := json.Marshal(pushTransactionParams{TxHex: "not-hex"})
	resp := Dispatch(table, Request{Method: "push_transaction", Params: params})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestGetVersionReportsGenesisHash(t *testing.T) {
	svc, _, _ := newTestServices()
	table := NewTable(svc)

	resp := Dispatch(table, Request{Method: "get_version"})
	require.Nil(t, resp.Error)
	m := resp.Result.(map[string]any)
	require.Equal(t, NodeVersion, m["version"])
	require.Equal(t, hexEncode(svc.GenesisHash), m["genesis_hash"])
}

func TestErrNotFoundIsDistinctFromConsensusErrors(t *testing.T) {
	require.False(t, errors.Is(corerr.BadData(corerr.RuleFeeTooLow), ErrNotFound))
}

func hexEncode(h crypto.Hash) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
