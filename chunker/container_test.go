package chunker

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// box32 builds a simple 32-bit-size ISOBMFF box with the given type and body.
func box32(typ string, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	copy(buf[4:8], typ)
	copy(buf[8:], body)
	return buf
}

func TestForceCutsISOBMFFTopLevelBoundaries(t *testing.T) {
	ftyp := box32("ftyp", []byte("isom0000"))
	moov := box32("moov", nil) // no trak children: key-frame walk is skipped
	mdat := box32("mdat", bytes.Repeat([]byte{0xAB}, 1000))

	var data []byte
	data = append(data, ftyp...)
	data = append(data, moov...)
	data = append(data, mdat...)

	ra := bytes.NewReader(data)
	cuts, err := ForceCutsISOBMFF(ra, int64(len(data)))
	require.NoError(t, err)

	require.Contains(t, cuts, int64(len(ftyp)))
	require.Contains(t, cuts, int64(len(ftyp)+len(moov)))
}

func TestForceCutsISOBMFFRejectsMalformedInput(t *testing.T) {
	_, err := ForceCutsISOBMFF(bytes.NewReader([]byte{0, 0, 0, 1}), 4)
	require.ErrorIs(t, err, ErrMalformedContainer)
}

func TestSelectFallsBackToGenericOnMalformedContainer(t *testing.T) {
	junk := bytes.Repeat([]byte{0xFF}, 64)
	variant, forceAt, err := Select("video/mp4", true, bytes.NewReader(junk), int64(len(junk)))
	require.NoError(t, err)
	require.Equal(t, VariantGeneric, variant)
	require.Nil(t, forceAt)
}

func TestSelectSkipsContainerParseWhenDisabled(t *testing.T) {
	variant, forceAt, err := Select("video/mp4", false, bytes.NewReader(nil), 0)
	require.NoError(t, err)
	require.Equal(t, VariantGeneric, variant)
	require.Nil(t, forceAt)
}
