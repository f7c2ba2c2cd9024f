package led

// Settings holds the strand-wide knobs every Unit reads on each command and
// tick. A single instance is shared by pointer across all units.
type Settings struct {
	// Default transition duration in milliseconds, used when a command
	// carries no transition.
	TransitionMs float64 `toml:"transition_ms" json:"transition_ms"`
	// Tick period in milliseconds. Also used to size ramp steps.
	MillisStep int `toml:"millis_step" json:"millis_step"`
	// Exponent applied to the normalized level before rendering.
	// 2.0 is quadratic, 1.0 linear, 0.5 square root.
	RampCoefficient float64 `toml:"ramp_coefficient" json:"ramp_coefficient"`
	OnCmd           string  `toml:"on_cmd" json:"on_cmd"`
	OffCmd          string  `toml:"off_cmd" json:"off_cmd"`
}

func DefaultSettings() Settings {
	return Settings{
		TransitionMs:    3000,
		MillisStep:      20,
		RampCoefficient: 2.0,
		OnCmd:           "ON",
		OffCmd:          "OFF",
	}
}

// StateString returns the configured on or off command string.
func (s *Settings) StateString(on bool) string {
	if on {
		return s.OnCmd
	}
	return s.OffCmd
}
