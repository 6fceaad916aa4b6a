package blockdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wimble.dev/node/internal/crypto"
)

func TestUndoRecordRoundTrip(t *testing.T) {
	u := UndoRecord{Spent: []UndoSpent{
		{Commitment: crypto.Commitment{0x02, 0x01}, MMRPos: 7, Height: 100},
		{Commitment: crypto.Commitment{0x03, 0x02}, MMRPos: 9, Height: 100},
	}}
	enc := EncodeUndoRecord(u)
	got, err := DecodeUndoRecord(enc)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestUndoRecordEmpty(t *testing.T) {
	enc := EncodeUndoRecord(UndoRecord{})
	got, err := DecodeUndoRecord(enc)
	require.NoError(t, err)
	require.Empty(t, got.Spent)
}

func TestDecodeUndoRecordRejectsTruncated(t *testing.T) {
	_, err := DecodeUndoRecord([]byte{0, 0, 0, 1})
	require.Error(t, err)
}
