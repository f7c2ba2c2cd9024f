package led

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// Color carries the three channel brightnesses of a command, 0-255 each.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Command is a (sparse) update for a unit, as received on a /set topic.
// Absent fields leave the corresponding state untouched.
type Command struct {
	State      *string  `json:"state,omitempty"`
	Color      *Color   `json:"color,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	// Transition time in seconds.
	Transition *float64 `json:"transition,omitempty"`
}

// ParseCommand decodes a JSON command payload. The payload must be a JSON
// object. Each known key is decoded on its own; a key with a value of the
// wrong type is logged and skipped, the remaining keys still apply.
func ParseCommand(payload []byte) (*Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse command payload: %w", err)
	}

	var cmd Command
	for key, raw := range fields {
		var err error
		switch key {
		case "state":
			err = decodeField(raw, &cmd.State)
		case "color":
			err = decodeColor(raw, &cmd.Color)
		case "brightness":
			err = decodeField(raw, &cmd.Brightness)
		case "transition":
			err = decodeField(raw, &cmd.Transition)
		default:
			continue
		}
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"field": key,
				"value": string(raw),
			}).Warn("ignoring malformed field")
		}
	}
	return &cmd, nil
}

// decodeField sets *dst to the value in raw. null leaves *dst nil.
func decodeField[T any](raw json.RawMessage, dst **T) error {
	if isNull(raw) {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// decodeColor accepts any JSON numbers as components and truncates them.
// Missing components are 0.
func decodeColor(raw json.RawMessage, dst **Color) error {
	var c *struct {
		R float64 `json:"r"`
		G float64 `json:"g"`
		B float64 `json:"b"`
	}
	if err := decodeField(raw, &c); err != nil || c == nil {
		return err
	}
	*dst = &Color{R: toInt(c.R), G: toInt(c.G), B: toInt(c.B)}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// toInt truncates v, bounded to the int32 range.
func toInt(v float64) int {
	return int(clamp(v, math.MinInt32, math.MaxInt32))
}

// Unscaled is the scale used for commands addressed to a unit directly.
var Unscaled = [3]float64{1, 1, 1}

// ProcessJSON parses payload and applies it with the given per-channel scale.
func (u *Unit) ProcessJSON(payload []byte, scale [3]float64) error {
	cmd, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	u.Apply(cmd, scale)
	return nil
}

// Apply updates the unit from cmd, then computes new targets and the
// per-tick steps to reach them within the transition time.
func (u *Unit) Apply(cmd *Command, scale [3]float64) {
	if cmd.State != nil {
		switch *cmd.State {
		case u.settings.OnCmd:
			u.isOn = true
		case u.settings.OffCmd:
			u.isOn = false
		default:
			log.WithFields(log.Fields{
				"index": u.index,
				"state": *cmd.State,
			}).Warn("ignoring unknown state")
		}
	}

	if cmd.Color != nil {
		u.SetColor(cmd.Color.R, cmd.Color.G, cmd.Color.B)
	}
	if cmd.Brightness != nil {
		u.SetBrightness(int(clamp(*cmd.Brightness, 0, 255)))
	}

	u.scale = scale

	transition := u.settings.TransitionMs
	if cmd.Transition != nil {
		transition = *cmd.Transition * 1000
	}

	on := 0.0
	if u.isOn {
		on = 1
	}

	for k := 0; k < numChannels; k++ {
		u.target[k] = float64(u.brightness[k]) * on * u.scale[k]

		if transition > 0 {
			u.step[k] = (u.target[k] - u.current[k]) / (transition / float64(u.settings.MillisStep))
		} else {
			// a full-range step, so the next tick snaps to the target.
			u.step[k] = 255
		}
	}

	log.WithFields(log.Fields{
		"index":   u.index,
		"is_on":   u.isOn,
		"scale":   u.scale,
		"target":  u.target,
		"current": u.current,
		"step":    u.step,
	}).Debug("applied command")
}
