// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/hal"
	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("invalid config")

// Config is the daemon configuration.
type Config struct {
	Hardware   HardwareConfig   `yaml:"hardware"`
	Regulation RegulationConfig `yaml:"regulation"`
	Limits     LimitsConfig     `yaml:"limits"`
	Supply     SupplyConfig     `yaml:"supply"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http"`
	Cadence    CadenceConfig    `yaml:"cadence"`
	Store      StoreConfig      `yaml:"store"`
}

// HardwareConfig describes the wiring of the output stage.
type HardwareConfig struct {
	Chip           string         `yaml:"chip"`
	Lines          []int          `yaml:"lines"` // driver enable, supply enable, pwm feedback per channel
	PWMPins        []string       `yaml:"pwm_pins"`
	PWMFrequencyHz int64          `yaml:"pwm_frequency_hz"`
	Period         uint16         `yaml:"period"`
	I2CBus         string         `yaml:"i2c_bus"`
	Analog         []AnalogConfig `yaml:"analog"`
}

// AnalogConfig places one channel quantity on an ADC input.
type AnalogConfig struct {
	Channel  int    `yaml:"channel"`
	Quantity string `yaml:"quantity"` // voltage, current or temperature
	Address  uint16 `yaml:"address"`
	Input    int    `yaml:"input"`
}

// RegulationConfig tunes the controller.
type RegulationConfig struct {
	Tolerance   uint16 `yaml:"tolerance"`
	Smoothing   bool   `yaml:"smoothing"`
	MailboxSize int    `yaml:"mailbox_size"`
}

// LimitsConfig holds the fault thresholds.
type LimitsConfig struct {
	OverCurrentMilliamps uint32 `yaml:"over_current_ma"`
	MaxTemperature       int16  `yaml:"max_temperature"` // tenths of a degree Celsius
	LeakCount            uint16 `yaml:"leak_count"`
	LoadCheckCount       uint16 `yaml:"load_check_count"`
}

// SupplyConfig fixes the supply voltage. Zero discovers it at startup.
type SupplyConfig struct {
	Millivolts uint32 `yaml:"millivolts"`
}

// MQTTConfig selects the broker and topics.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	WSBroker    string `yaml:"ws_broker"` // "=broker" derives from Broker, empty disables
}

// HTTPConfig is the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// CadenceConfig holds the tick intervals.
type CadenceConfig struct {
	Measurement time.Duration `yaml:"measurement"`
	Controller  time.Duration `yaml:"controller"`
	Faults      time.Duration `yaml:"faults"`
	Second      time.Duration `yaml:"second"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

// StoreConfig locates the settings file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration of the reference board.
func Default() *Config {
	return &Config{
		Hardware: HardwareConfig{
			Chip:           "gpiochip0",
			Lines:          []int{4, 17, 27, 22, 5, 6, 23, 24, 25, 16, 20, 21},
			PWMPins:        []string{"GPIO12", "GPIO13", "GPIO18", "GPIO19"},
			PWMFrequencyHz: 20000,
			Period:         160,
			Analog:         defaultAnalog(),
		},
		Regulation: RegulationConfig{
			Tolerance:   regulation.DefaultTolerance,
			MailboxSize: regulation.DefaultMailboxSize,
		},
		Limits: LimitsConfig{
			OverCurrentMilliamps: fault.DefaultOverCurrentMilliamps,
			MaxTemperature:       fault.DefaultMaxTemperature,
			LeakCount:            fault.DefaultLeakCount,
			LoadCheckCount:       fault.DefaultLoadCheckCount,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			ClientID:    "dimmer-regulator",
			TopicPrefix: "dimmer",
			WSBroker:    "=broker",
		},
		HTTP: HTTPConfig{Addr: ":80"},
		Cadence: CadenceConfig{
			Measurement: 2 * time.Millisecond,
			Controller:  7 * time.Millisecond,
			Faults:      51 * time.Millisecond,
			Second:      1001 * time.Millisecond,
			Heartbeat:   15 * time.Minute,
		},
		Store: StoreConfig{Path: "/var/lib/dimmer-regulator/settings.yaml"},
	}
}

// defaultAnalog puts voltage, current and temperature on three ADS1115s,
// one input per channel.
func defaultAnalog() []AnalogConfig {
	var a []AnalogConfig
	for i, q := range []hal.Quantity{hal.Voltage, hal.Current, hal.Temperature} {
		for ch := 0; ch < regulation.NumChannels; ch++ {
			a = append(a, AnalogConfig{
				Channel:  ch,
				Quantity: q.String(),
				Address:  0x48 + uint16(i),
				Input:    ch,
			})
		}
	}
	return a
}

// Load reads path over the defaults. A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ensureDefaults()
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ensureDefaults fills zero values a partial file left behind.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Hardware.Chip == "" {
		c.Hardware.Chip = def.Hardware.Chip
	}
	if len(c.Hardware.Lines) == 0 {
		c.Hardware.Lines = def.Hardware.Lines
	}
	if len(c.Hardware.PWMPins) == 0 {
		c.Hardware.PWMPins = def.Hardware.PWMPins
	}
	if c.Hardware.PWMFrequencyHz == 0 {
		c.Hardware.PWMFrequencyHz = def.Hardware.PWMFrequencyHz
	}
	if c.Hardware.Period == 0 {
		c.Hardware.Period = def.Hardware.Period
	}
	if len(c.Hardware.Analog) == 0 {
		c.Hardware.Analog = def.Hardware.Analog
	}

	if c.Regulation.Tolerance == 0 {
		c.Regulation.Tolerance = def.Regulation.Tolerance
	}
	if c.Regulation.MailboxSize == 0 {
		c.Regulation.MailboxSize = def.Regulation.MailboxSize
	}

	if c.Limits.OverCurrentMilliamps == 0 {
		c.Limits.OverCurrentMilliamps = def.Limits.OverCurrentMilliamps
	}
	if c.Limits.MaxTemperature == 0 {
		c.Limits.MaxTemperature = def.Limits.MaxTemperature
	}
	if c.Limits.LeakCount == 0 {
		c.Limits.LeakCount = def.Limits.LeakCount
	}
	if c.Limits.LoadCheckCount == 0 {
		c.Limits.LoadCheckCount = def.Limits.LoadCheckCount
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}

	if c.Cadence.Measurement == 0 {
		c.Cadence.Measurement = def.Cadence.Measurement
	}
	if c.Cadence.Controller == 0 {
		c.Cadence.Controller = def.Cadence.Controller
	}
	if c.Cadence.Faults == 0 {
		c.Cadence.Faults = def.Cadence.Faults
	}
	if c.Cadence.Second == 0 {
		c.Cadence.Second = def.Cadence.Second
	}

	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
}

// Validate checks the values the daemon cannot run without.
func (c *Config) Validate() error {
	pins := regulation.NumChannels * 3
	if len(c.Hardware.Lines) != pins {
		return fmt.Errorf("%w: hardware.lines has %d entries, want %d", ErrInvalid, len(c.Hardware.Lines), pins)
	}
	if len(c.Hardware.PWMPins) != regulation.NumChannels {
		return fmt.Errorf("%w: hardware.pwm_pins has %d entries, want %d", ErrInvalid, len(c.Hardware.PWMPins), regulation.NumChannels)
	}
	if c.Hardware.Period < regulation.SafeCompare {
		return fmt.Errorf("%w: hardware.period %d below the safe compare value %d", ErrInvalid, c.Hardware.Period, regulation.SafeCompare)
	}
	if c.Hardware.PWMFrequencyHz <= 0 {
		return fmt.Errorf("%w: hardware.pwm_frequency_hz must be positive", ErrInvalid)
	}

	seen := make(map[[2]int]bool)
	for i, a := range c.Hardware.Analog {
		q, err := hal.ParseQuantity(a.Quantity)
		if err != nil {
			return fmt.Errorf("%w: hardware.analog[%d]: %v", ErrInvalid, i, err)
		}
		if a.Channel < 0 || a.Channel >= regulation.NumChannels {
			return fmt.Errorf("%w: hardware.analog[%d]: channel %d out of range", ErrInvalid, i, a.Channel)
		}
		if a.Input < 0 || a.Input > 3 {
			return fmt.Errorf("%w: hardware.analog[%d]: input %d out of range", ErrInvalid, i, a.Input)
		}
		key := [2]int{a.Channel, int(q)}
		if seen[key] {
			return fmt.Errorf("%w: hardware.analog[%d]: channel %d %s mapped twice", ErrInvalid, i, a.Channel, q)
		}
		seen[key] = true
	}

	if c.Regulation.Tolerance == 0 {
		return fmt.Errorf("%w: regulation.tolerance must be non-zero", ErrInvalid)
	}
	if c.Limits.OverCurrentMilliamps == 0 {
		return fmt.Errorf("%w: limits.over_current_ma must be non-zero", ErrInvalid)
	}

	for name, d := range map[string]time.Duration{
		"measurement": c.Cadence.Measurement,
		"controller":  c.Cadence.Controller,
		"faults":      c.Cadence.Faults,
		"second":      c.Cadence.Second,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: cadence.%s must be positive", ErrInvalid, name)
		}
	}
	if c.Cadence.Heartbeat < 0 {
		return fmt.Errorf("%w: cadence.heartbeat must not be negative", ErrInvalid)
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("%w: mqtt.topic_prefix must be set", ErrInvalid)
	}
	return nil
}

// FaultLimits converts the limits section.
func (c *Config) FaultLimits() fault.Limits {
	return fault.Limits{
		OverCurrentMilliamps: c.Limits.OverCurrentMilliamps,
		MaxTemperature:       c.Limits.MaxTemperature,
		LeakCount:            c.Limits.LeakCount,
		LoadCheckCount:       c.Limits.LoadCheckCount,
	}
}

// LinuxConfig converts the hardware section. Call Validate first.
func (c *Config) LinuxConfig() (hal.LinuxConfig, error) {
	lc := hal.LinuxConfig{
		Chip:         c.Hardware.Chip,
		Lines:        c.Hardware.Lines,
		PWMPins:      c.Hardware.PWMPins,
		PWMFrequency: physic.Frequency(c.Hardware.PWMFrequencyHz) * physic.Hertz,
		Period:       c.Hardware.Period,
		I2CBus:       c.Hardware.I2CBus,
	}
	for i, a := range c.Hardware.Analog {
		q, err := hal.ParseQuantity(a.Quantity)
		if err != nil {
			return hal.LinuxConfig{}, fmt.Errorf("hardware.analog[%d]: %w", i, err)
		}
		lc.Analog = append(lc.Analog, hal.AnalogInput{
			Channel:  a.Channel,
			Quantity: q,
			Address:  a.Address,
			Input:    a.Input,
		})
	}
	return lc, nil
}
