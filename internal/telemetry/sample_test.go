package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoPSample_Validate(t *testing.T) {
	tests := []struct {
		name   string
		sample CoPSample
		valid  bool
	}{
		{"finite", NewCoPSample(0.1, -0.2, []float64{1, 2, 3}), true},
		{"no pressures", NewCoPSample(0, 0, nil), true},
		{"nan x", NewCoPSample(math.NaN(), 0, nil), false},
		{"inf y", NewCoPSample(0, math.Inf(-1), nil), false},
		{"nan pressure", NewCoPSample(0, 0, []float64{1, math.NaN()}), false},
		{"inf pressure", NewCoPSample(0, 0, []float64{math.Inf(1)}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNonFinite)
			}
		})
	}
}

func TestCoPSample_PressuresAreCopied(t *testing.T) {
	in := []float64{1, 2, 3}
	s := NewCoPSample(0, 0, in)
	in[0] = 99

	out := s.Pressures()
	assert.Equal(t, []float64{1, 2, 3}, out)
	out[1] = 99
	assert.Equal(t, []float64{1, 2, 3}, s.Pressures())
	assert.Equal(t, 3, s.PressureCount())
}

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideLeft, ParseSide("left"))
	assert.Equal(t, SideLeft, ParseSide(" L "))
	assert.Equal(t, SideRight, ParseSide("RIGHT"))
	assert.Equal(t, SideUnknown, ParseSide(""))
	assert.Equal(t, SideUnknown, ParseSide("both"))
}

func TestHeadsetFrame_RoundTripIsExact(t *testing.T) {
	samples := []CoPSample{
		NewCoPSample(0.1, -0.2, []float64{0.30000000000000004, 1e-300, 12345.678}),
		NewCoPSample(math.MaxFloat64, -math.SmallestNonzeroFloat64, nil),
		NewCoPSample(1.0/3.0, 2.0/3.0, []float64{0, -0.5}),
	}
	for _, s := range samples {
		raw, err := EncodeHeadsetFrame(s)
		require.NoError(t, err)

		got, err := DecodeHeadsetFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(s.X), math.Float64bits(got.X))
		assert.Equal(t, math.Float64bits(s.Y), math.Float64bits(got.Y))
		require.Equal(t, s.PressureCount(), got.PressureCount())
		for i, p := range s.Pressures() {
			assert.Equal(t, math.Float64bits(p), math.Float64bits(got.Pressures()[i]))
		}
	}
}

func TestHeadsetFrame_Shape(t *testing.T) {
	raw, err := EncodeHeadsetFrame(NewCoPSample(0.5, -0.25, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"CoPX":0.5,"CoPY":-0.25,"Pressures":[]}`, string(raw))

	for _, frame := range []string{
		`{"CoPX":0.5,"CoPY":-0.25}`,
		`{"CoPX":0.5,"CoPY":-0.25,"Pressures":null}`,
		`{"CoPX":0.5,"CoPY":-0.25,"Pressures":[]}`,
	} {
		s, err := DecodeHeadsetFrame([]byte(frame))
		require.NoError(t, err)
		assert.Equal(t, 0.5, s.X)
		assert.Zero(t, s.PressureCount())
	}

	_, err = DecodeHeadsetFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestHeadsetFrame_NonFiniteFailsToEncode(t *testing.T) {
	_, err := EncodeHeadsetFrame(NewCoPSample(math.NaN(), 0, nil))
	assert.Error(t, err)
}
