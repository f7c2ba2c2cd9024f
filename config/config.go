// Package config loads the agent configuration from a TOML file, with
// command line flags taking precedence over the file.
package config

import (
	"fmt"
	"os"

	"github.com/flokli/rgb-strand-agent/led"
	"github.com/flokli/rgb-strand-agent/strand"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

type MQTT struct {
	Broker   string `toml:"broker"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	// Derived from the machine id if empty.
	ClientID string `toml:"client_id"`
}

type Strand struct {
	TopicBase      string              `toml:"topic_base"`
	Sink           string              `toml:"sink"` // "pwm" | "strip" | "screen"
	PWMFrequencyHz int                 `toml:"pwm_frequency_hz"`
	SPIPort        string              `toml:"spi_port"`
	Units          []strand.UnitConfig `toml:"units"`
	Aliases        []strand.Alias      `toml:"aliases"`
}

type Logging struct {
	Level string `toml:"level"`
}

type Metrics struct {
	// Listen address of the /metrics endpoint, empty to disable.
	Addr string `toml:"addr"`
}

type Config struct {
	MQTT    MQTT         `toml:"mqtt"`
	Strand  Strand       `toml:"strand"`
	LED     led.Settings `toml:"led"`
	Logging Logging      `toml:"logging"`
	Metrics Metrics      `toml:"metrics"`
}

func Default() *Config {
	return &Config{
		MQTT: MQTT{
			Broker: "tcp://localhost:1883",
		},
		Strand: Strand{
			TopicBase:      "home/lantern",
			Sink:           "screen",
			PWMFrequencyHz: 1000,
			Units:          []strand.UnitConfig{{Pins: [3]int{5, 4, 2}}},
		},
		LED: led.DefaultSettings(),
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("unable to read config: %w", err)
	}
	if err := toml.Unmarshal(b, c); err != nil {
		return c, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return c, nil
}

// Validate checks the values the agent cannot run with.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is empty")
	}
	if c.Strand.TopicBase == "" {
		return fmt.Errorf("strand.topic_base is empty")
	}
	switch c.Strand.Sink {
	case "pwm", "strip", "screen":
	default:
		return fmt.Errorf("unknown strand.sink %q", c.Strand.Sink)
	}
	if c.Strand.Sink == "pwm" && c.Strand.PWMFrequencyHz <= 0 {
		return fmt.Errorf("strand.pwm_frequency_hz must be positive")
	}
	if len(c.Strand.Units) == 0 {
		return fmt.Errorf("no units configured")
	}
	for _, a := range c.Strand.Aliases {
		if a.Topic == "" {
			return fmt.Errorf("alias without topic")
		}
		if _, _, err := a.Resolve(len(c.Strand.Units)); err != nil {
			return err
		}
	}
	return ValidateSettings(&c.LED)
}

// ValidateSettings checks the part of the config that can be reloaded.
func ValidateSettings(s *led.Settings) error {
	if s.MillisStep <= 0 {
		return fmt.Errorf("led.millis_step must be positive")
	}
	if s.OnCmd == "" || s.OffCmd == "" {
		return fmt.Errorf("led.on_cmd and led.off_cmd must be set")
	}
	if s.OnCmd == s.OffCmd {
		return fmt.Errorf("led.on_cmd and led.off_cmd must differ")
	}
	return nil
}

// Outputs lists the output identifiers of all units.
func (c *Config) Outputs() []int {
	var outputs []int
	for _, u := range c.Strand.Units {
		outputs = append(outputs, u.Pins[:]...)
	}
	return outputs
}

// RegisterFlags adds the flags ApplyFlags knows about. Their defaults are
// only shown in the help, the file and the built-in defaults apply unless a
// flag is given explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "config.toml", "Path to configuration file")
	fs.String("broker", d.MQTT.Broker, "MQTT broker URL")
	fs.String("client-id", d.MQTT.ClientID, "MQTT client id")
	fs.String("topic-base", d.Strand.TopicBase, "Base topic of the strand")
	fs.String("sink", d.Strand.Sink, "Output driver: pwm | strip | screen")
	fs.Float64("transition", d.LED.TransitionMs, "Default transition in ms")
	fs.Int("millis-step", d.LED.MillisStep, "Tick period in ms")
	fs.Float64("ramp-coefficient", d.LED.RampCoefficient, "Exponent of the output curve")
	fs.String("log-level", d.Logging.Level, "Log level (trace, debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "Listen address for /metrics, empty to disable")
}

// ApplyFlags copies every flag explicitly set on the command line into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "broker":
			c.MQTT.Broker, err = fs.GetString(f.Name)
		case "client-id":
			c.MQTT.ClientID, err = fs.GetString(f.Name)
		case "topic-base":
			c.Strand.TopicBase, err = fs.GetString(f.Name)
		case "sink":
			c.Strand.Sink, err = fs.GetString(f.Name)
		case "transition":
			c.LED.TransitionMs, err = fs.GetFloat64(f.Name)
		case "millis-step":
			c.LED.MillisStep, err = fs.GetInt(f.Name)
		case "ramp-coefficient":
			c.LED.RampCoefficient, err = fs.GetFloat64(f.Name)
		case "log-level":
			c.Logging.Level, err = fs.GetString(f.Name)
		case "metrics-addr":
			c.Metrics.Addr, err = fs.GetString(f.Name)
		}
	})
	if err != nil {
		return fmt.Errorf("unable to apply flags: %w", err)
	}
	return nil
}
