package record_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/diskqueue/internal/record"
)

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	cases := []record.Header{
		{ChannelID: 1, NextOffset: 0, Length: 0},
		{ChannelID: 42, NextOffset: 1 << 40, Length: 20000},
		{ChannelID: record.DummyChannelID, NextOffset: 0, Length: 900},
	}

	for _, h := range cases {
		buf := make([]byte, record.HeaderSize)
		h.Encode(buf)

		got, err := record.Decode(buf)
		require.NoError(t, err)
		require.Equal(t, h.ChannelID, got.ChannelID)
		require.Equal(t, h.NextOffset, got.NextOffset)
		require.Equal(t, h.Length, got.Length)
	}
}

func TestHeader_ParityFlipDetected(t *testing.T) {
	h := record.Header{ChannelID: 7, NextOffset: 128, Length: 64}

	buf := make([]byte, record.HeaderSize)
	h.Encode(buf)

	for i := range buf {
		mutated := append([]byte(nil), buf...)
		mutated[i] ^= 0x01

		_, err := record.Decode(mutated)
		require.Error(t, err, "byte %d", i)
		require.ErrorIs(t, err, record.ErrCorrupt)
	}
}

func TestHeader_DecodeShortBuffer(t *testing.T) {
	_, err := record.Decode(make([]byte, record.HeaderSize-1))
	require.Error(t, err)
}

func FuzzHeaderRoundTrip(f *testing.F) {
	f.Add(uint32(1), int64(0), uint64(0))
	f.Add(uint32(42), int64(1<<40), uint64(20000))

	f.Fuzz(func(t *testing.T, channelID uint32, nextOffset int64, length uint64) {
		h := record.Header{ChannelID: channelID, NextOffset: nextOffset, Length: length}

		buf := make([]byte, record.HeaderSize)
		h.Encode(buf)

		got, err := record.Decode(buf)
		if err != nil {
			t.Fatalf("decode freshly encoded header: %v", err)
		}

		if got.ChannelID != h.ChannelID || got.NextOffset != h.NextOffset || got.Length != h.Length {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	})
}
