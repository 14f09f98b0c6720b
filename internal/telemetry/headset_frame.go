package telemetry

import (
	"encoding/json"
	"fmt"
)

// headsetFrame is the JSON object the headset visualization parses
type headsetFrame struct {
	CoPX      float64   `json:"CoPX"`
	CoPY      float64   `json:"CoPY"`
	Pressures []float64 `json:"Pressures"`
}

// EncodeHeadsetFrame serializes s as {"CoPX":..,"CoPY":..,"Pressures":[..]}.
// An empty pressure list is written as [] rather than null.
func EncodeHeadsetFrame(s CoPSample) ([]byte, error) {
	pressures := s.pressures
	if pressures == nil {
		pressures = []float64{}
	}
	raw, err := json.Marshal(headsetFrame{CoPX: s.X, CoPY: s.Y, Pressures: pressures})
	if err != nil {
		return nil, fmt.Errorf("encode headset frame: %w", err)
	}
	return raw, nil
}

// DecodeHeadsetFrame parses a headset frame. A missing, null or empty
// Pressures field yields a sample with no pressures.
func DecodeHeadsetFrame(raw []byte) (CoPSample, error) {
	var f headsetFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return CoPSample{}, fmt.Errorf("decode headset frame: %w", err)
	}
	return NewCoPSample(f.CoPX, f.CoPY, f.Pressures), nil
}
