package backend

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/telemetry"
)

// ErrProtocol marks a frame from the backend that could not be understood
var ErrProtocol = errors.New("backend protocol error")

// Command names sent to the backend
const (
	CmdEnumeratePorts = "enumerate-ports"
	CmdOpen           = "open"
	CmdCalibrate      = "calibrate"
	CmdStopStream     = "stop-stream"
)

// Event names received from the backend
const (
	EvtDeviceList      = "device-list"
	EvtDeviceConnected = "device-connected"
	EvtCoPSample       = "cop-sample"
)

// Command is one request frame
type Command struct {
	Command string   `json:"command"`
	IDs     []string `json:"ids,omitempty"`
}

// EncodeCommand renders c as a single JSON frame
func EncodeCommand(c Command) ([]byte, error) {
	if c.Command == "" {
		return nil, errors.New("backend: empty command")
	}
	return json.Marshal(c)
}

// Event is one decoded frame from the backend. Only the fields of the named
// event are set.
type Event struct {
	Name string

	// device-list
	IDs []string

	// device-connected
	ID   string
	Side telemetry.Side

	// cop-sample
	DeviceID string
	Sample   telemetry.CoPSample
}

type eventJSON struct {
	Event     string    `json:"event"`
	IDs       []string  `json:"ids"`
	ID        string    `json:"id"`
	Side      string    `json:"side"`
	DeviceID  string    `json:"deviceId"`
	X         *float64  `json:"x"`
	Y         *float64  `json:"y"`
	Pressures []float64 `json:"pressures"`
}

// DecodeEvent parses one backend frame. Malformed frames, unknown events and
// events missing required fields return an error wrapping ErrProtocol.
func DecodeEvent(raw []byte) (Event, error) {
	var in eventJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	switch in.Event {
	case EvtDeviceList:
		ids := make([]string, 0, len(in.IDs))
		for _, id := range in.IDs {
			if id != "" {
				ids = append(ids, id)
			}
		}
		return Event{Name: in.Event, IDs: ids}, nil

	case EvtDeviceConnected:
		if in.ID == "" {
			return Event{}, fmt.Errorf("%w: %s without id", ErrProtocol, in.Event)
		}
		return Event{Name: in.Event, ID: in.ID, Side: telemetry.ParseSide(in.Side)}, nil

	case EvtCoPSample:
		if in.DeviceID == "" || in.X == nil || in.Y == nil {
			return Event{}, fmt.Errorf("%w: %s needs deviceId, x and y", ErrProtocol, in.Event)
		}
		return Event{
			Name:     in.Event,
			DeviceID: in.DeviceID,
			Sample:   telemetry.NewCoPSample(*in.X, *in.Y, in.Pressures),
		}, nil

	case "":
		return Event{}, fmt.Errorf("%w: frame has no event name", ErrProtocol)
	default:
		return Event{}, fmt.Errorf("%w: unknown event %q", ErrProtocol, in.Event)
	}
}
