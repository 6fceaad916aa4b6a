package chain

import (
	"time"

	"wimble.dev/node/internal/chaintypes"
	"wimble.dev/node/internal/wire"
)

// nowFunc is overridden in tests so header future-timestamp checks stay
// deterministic; production code always goes through wall-clock time.
var nowFunc = func() uint64 { return uint64(time.Now().Unix()) }

func encodeHeader(h chaintypes.BlockHeader) []byte {
	w := wire.NewWriter()
	h.Encode(w)
	return w.Bytes()
}

func encodeBlock(b chaintypes.FullBlock) []byte {
	w := wire.NewWriter()
	b.Encode(w)
	return w.Bytes()
}

func decodeBlockBytes(raw []byte) (chaintypes.FullBlock, error) {
	r := wire.NewReader(raw)
	blk, err := chaintypes.DecodeBlock(r)
	if err != nil {
		return blk, err
	}
	return blk, r.Finish()
}
