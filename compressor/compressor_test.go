package compressor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{None, Fast, Dict} {
		algo := algo
		t.Run(algo.String(), func(t *testing.T) {
			payload := bytes.Repeat([]byte("loom binary asset chunk payload "), 200)
			record, err := Encode(payload, &algo, 0.95)
			require.NoError(t, err)

			got, err := Decode(record)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestEncodeFallsBackToNoneBelowMinRatio(t *testing.T) {
	// Already-dense random-looking bytes won't compress well; a very
	// strict min ratio forces the store-raw fallback of spec §4.1(c).
	payload := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	fast := Fast
	record, err := Encode(payload, &fast, 0.01)
	require.NoError(t, err)
	require.Equal(t, byte(None), record[0])

	got, err := Decode(record)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 0, 1})
	require.Error(t, err)
}

func TestIsPrecompressed(t *testing.T) {
	require.True(t, IsPrecompressed("video/mp4"))
	require.False(t, IsPrecompressed("text/plain"))
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("dict")
	require.NoError(t, err)
	require.Equal(t, Dict, a)

	_, err = ParseAlgorithm("bogus")
	require.Error(t, err)
}
