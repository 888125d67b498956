package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

type Window struct {
	Title     string `toml:"title"`
	X         int    `toml:"x"`
	Y         int    `toml:"y"`
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	Resizable bool   `toml:"resizable"`
}

type Graphics struct {
	// "", "low-power" or "high-performance". Empty keeps the driver's adapter order.
	PowerPreference string `toml:"power_preference"`
	// Present modes in order of preference: mailbox, fifo, relaxed, immediate.
	PresentModes []string `toml:"present_modes"`
	// Maximum time spent blocked on a fence or image acquire. Zero waits forever.
	FenceTimeout Duration   `toml:"fence_timeout"`
	Validation   bool       `toml:"validation"`
	ClearColor   [4]float32 `toml:"clear_color"`
	// Application name reported to the driver.
	ApplicationName string `toml:"-"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Window   Window   `toml:"window"`
	Graphics Graphics `toml:"graphics"`
	Log      Log      `toml:"log"`
}

const (
	PowerPreferenceNone            = ""
	PowerPreferenceLowPower        = "low-power"
	PowerPreferenceHighPerformance = "high-performance"
)

var validPresentModes = []string{"mailbox", "fifo", "relaxed", "immediate"}

func Default() *Config {
	return &Config{
		Window: Window{
			Title:     "Anima2D",
			X:         100,
			Y:         100,
			Width:     1280,
			Height:    720,
			Resizable: true,
		},
		Graphics: Graphics{
			PresentModes:    slices.Clone(validPresentModes),
			ClearColor:      [4]float32{0.0, 0.0, 0.2, 1.0},
			ApplicationName: "Anima2D",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a TOML file on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Graphics.PresentModes = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if len(cfg.Graphics.PresentModes) == 0 {
		cfg.Graphics.PresentModes = slices.Clone(validPresentModes)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Graphics.ApplicationName = cfg.Window.Title
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return errors.Errorf("window size must be non-zero, got %dx%d", c.Window.Width, c.Window.Height)
	}
	switch c.Graphics.PowerPreference {
	case PowerPreferenceNone, PowerPreferenceLowPower, PowerPreferenceHighPerformance:
	default:
		return errors.Errorf("unknown power preference %q", c.Graphics.PowerPreference)
	}
	if len(c.Graphics.PresentModes) == 0 {
		return errors.New("present_modes must list at least one mode")
	}
	for i, m := range c.Graphics.PresentModes {
		m = strings.ToLower(strings.TrimSpace(m))
		if !slices.Contains(validPresentModes, m) {
			return errors.Errorf("unknown present mode %q", m)
		}
		c.Graphics.PresentModes[i] = m
	}
	if c.Graphics.FenceTimeout < 0 {
		return errors.New("fence_timeout must not be negative")
	}
	for _, ch := range c.Graphics.ClearColor {
		if ch < 0 || ch > 1 {
			return errors.New("clear_color channels must be within [0, 1]")
		}
	}
	return nil
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// PresentationChanged reports whether switching from c to next needs a swapchain rebuild.
func (c *Config) PresentationChanged(next *Config) bool {
	return !slices.Equal(c.Graphics.PresentModes, next.Graphics.PresentModes)
}

// Duration is a time.Duration written as a string ("250ms", "2s") in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Nanoseconds returns the timeout in the unit the GPU API expects; zero means no limit.
func (d Duration) Nanoseconds() uint64 {
	if d <= 0 {
		return ^uint64(0)
	}
	return uint64(time.Duration(d).Nanoseconds())
}
