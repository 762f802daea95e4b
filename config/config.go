// Package config loads the daemon's TOML configuration: the storage
// device, the transport to serve, and the LED strip layout.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Device configures the program store's backing device.
type Device struct {
	// Path is the bbolt database file; empty selects an in-memory device.
	Path string `toml:"path"`
	// Size is the flash window size in bytes.
	Size int `toml:"size"`
	// WriteAlign and EraseAlign emulate the target part's constraints.
	WriteAlign int `toml:"write_align"`
	EraseAlign int `toml:"erase_align"`
}

// Transport selects where protocol frames are served. Exactly one of TCP
// or SerialPort is used; TCP wins when both are set.
type Transport struct {
	TCP        string `toml:"tcp"`
	SerialPort string `toml:"serial_port"`
	Baud       int    `toml:"baud"`
}

// Strip lays out one LED strip: the machine indices layered onto it and
// its LED count.
type Strip struct {
	Machines []int `toml:"machines"`
	Leds     int   `toml:"leds"`
}

// Config is the daemon configuration.
type Config struct {
	FrameRate int       `toml:"frame_rate"`
	Device    Device    `toml:"device"`
	Transport Transport `toml:"transport"`
	Strips    []Strip   `toml:"strip"`
}

// Default returns the configuration used when no file is given: an
// in-memory store sized like the target flash window and one 60-LED strip
// driven by machine 0.
func Default() *Config {
	return &Config{
		FrameRate: 30,
		Device: Device{
			Size:       256 * 1024,
			WriteAlign: 8,
			EraseAlign: 4096,
		},
		Transport: Transport{TCP: "localhost:9191"},
		Strips:    []Strip{{Machines: []int{0}, Leds: 60}},
	}
}

// Load reads and validates a configuration file, filling omitted fields
// from the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field consistency.
func (c *Config) Validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("config: frame_rate %d", c.FrameRate)
	}
	if c.Device.Size <= 0 || c.Device.WriteAlign <= 0 || c.Device.EraseAlign <= 0 {
		return fmt.Errorf("config: device geometry %d/%d/%d",
			c.Device.Size, c.Device.WriteAlign, c.Device.EraseAlign)
	}
	if c.Device.Size%c.Device.EraseAlign != 0 {
		return fmt.Errorf("config: size %d not a multiple of erase block %d",
			c.Device.Size, c.Device.EraseAlign)
	}
	if c.Transport.TCP == "" && c.Transport.SerialPort == "" {
		return fmt.Errorf("config: no transport configured")
	}
	if c.Transport.SerialPort != "" && c.Transport.Baud <= 0 && c.Transport.TCP == "" {
		return fmt.Errorf("config: serial transport needs a baud rate")
	}
	for i, s := range c.Strips {
		if s.Leds <= 0 || len(s.Machines) == 0 {
			return fmt.Errorf("config: strip %d: %d leds, %d machines", i, s.Leds, len(s.Machines))
		}
	}
	return nil
}

// FramePeriod converts the frame rate to a render period.
func (c *Config) FramePeriod() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}
