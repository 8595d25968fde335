package fabric_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MontBlanc-69/onitu/internal/fabric"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := [][]byte{
		{fabric.CmdGetFile},
		[]byte("report.txt"),
		{0, 0, 0, 0, 0, 0, 0, 0},
	}

	msg, err := fabric.Encode(frames)
	require.NoError(t, err)

	decoded, err := fabric.Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, frames, decoded)
}

func TestEncodeEmptyFrame(t *testing.T) {
	msg, err := fabric.Encode([][]byte{{}, []byte("x")})
	require.NoError(t, err)

	decoded, err := fabric.Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{}, []byte("x")}, decoded)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := fabric.Decode([]byte{2, 0, 0, 0, 1, 'a'}) // claims 2 frames, only 1 present
	assert.Error(t, err)
}

func TestDecodeRejectsEmpty(t *testing.T) {
	_, err := fabric.Decode(nil)
	assert.Error(t, err)
}

func TestEncodeRejectsNoFrames(t *testing.T) {
	_, err := fabric.Encode(nil)
	assert.Error(t, err)
}
