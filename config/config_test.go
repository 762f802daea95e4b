package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumend.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
frame_rate = 60

[device]
path = "/var/lib/lumen/flash.db"
size = 131072
write_align = 4
erase_align = 2048

[transport]
serial_port = "/dev/ttyACM0"
baud = 115200
tcp = ""

[[strip]]
machines = [0, 1]
leds = 144

[[strip]]
machines = [2]
leds = 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FrameRate != 60 {
		t.Errorf("frame_rate %d, want 60", cfg.FrameRate)
	}
	if cfg.Device.Path != "/var/lib/lumen/flash.db" || cfg.Device.Size != 131072 ||
		cfg.Device.WriteAlign != 4 || cfg.Device.EraseAlign != 2048 {
		t.Errorf("device %+v", cfg.Device)
	}
	if cfg.Transport.SerialPort != "/dev/ttyACM0" || cfg.Transport.Baud != 115200 || cfg.Transport.TCP != "" {
		t.Errorf("transport %+v", cfg.Transport)
	}
	if len(cfg.Strips) != 2 || cfg.Strips[0].Leds != 144 || len(cfg.Strips[0].Machines) != 2 ||
		cfg.Strips[1].Leds != 30 {
		t.Errorf("strips %+v", cfg.Strips)
	}
	if cfg.FramePeriod() != time.Second/60 {
		t.Errorf("frame period %v", cfg.FramePeriod())
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `frame_rate = 15`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FrameRate != 15 {
		t.Errorf("frame_rate %d, want 15", cfg.FrameRate)
	}
	def := Default()
	if cfg.Device.Size != def.Device.Size || cfg.Transport.TCP != def.Transport.TCP {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"zero frame rate":     func(c *Config) { c.FrameRate = 0 },
		"zero device size":    func(c *Config) { c.Device.Size = 0 },
		"unaligned size":      func(c *Config) { c.Device.Size = 4096 + 1; c.Device.EraseAlign = 4096 },
		"no transport":        func(c *Config) { c.Transport = Transport{} },
		"serial without baud": func(c *Config) { c.Transport = Transport{SerialPort: "/dev/ttyACM0"} },
		"empty strip":         func(c *Config) { c.Strips = []Strip{{}} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error")
	}
}
