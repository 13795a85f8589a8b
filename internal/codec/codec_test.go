package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMSBounds(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 0.0, RMS(make([]int16, 320)))

	square := make([]int16, 320)
	for i := range square {
		if i%2 == 0 {
			square[i] = 32767
		} else {
			square[i] = -32768
		}
	}
	r := RMS(square)
	assert.InDelta(t, 1.0, r, 0.01)
}

func TestMulawRoundTripAllCodePoints(t *testing.T) {
	for code := 0; code < 256; code++ {
		encoded := []byte{byte(code)}
		decoded := MulawDecode(encoded)
		require.Len(t, decoded, 1)
		reencoded := MulawEncode(decoded)
		require.Len(t, reencoded, 1)
		assert.Equal(t, encoded[0], reencoded[0])
	}
}

func TestPCMBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234, -4321}
	b := Int16ToPCMBytes(samples)
	back, err := PCMBytesToInt16(b)
	require.NoError(t, err)
	assert.Equal(t, samples, back)
}

func TestPCMBytesToInt16InvalidLength(t *testing.T) {
	_, err := PCMBytesToInt16([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidPCMLength)
}

func TestResampleLengthRatio(t *testing.T) {
	in := make([]int16, 320) // 20ms @ 16kHz
	for i := range in {
		in[i] = int16(1000)
	}
	out := Resample(in, 16000, 8000)
	wantLen := len(in) * 8000 / 16000
	assert.InDelta(t, wantLen, len(out), 1)

	out2 := Resample(in, 16000, 24000)
	wantLen2 := len(in) * 24000 / 16000
	assert.InDelta(t, wantLen2, len(out2), 1)
}

func TestResampleIdentity(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := Resample(in, 16000, 16000)
	assert.Equal(t, in, out)
}

func TestConcatAndSlice(t *testing.T) {
	a := []int16{1, 2}
	b := []int16{3, 4}
	got := Concat(a, b)
	assert.Equal(t, []int16{1, 2, 3, 4}, got)

	s := Slice(got, 1, 3)
	assert.Equal(t, []int16{2, 3}, s)

	assert.Nil(t, Slice(got, 3, 1))
}
