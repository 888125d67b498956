package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[window]
title = "sprites"
width = 800
height = 600

[graphics]
power_preference = "high-performance"
present_modes = ["FIFO", "immediate"]
fence_timeout = "2s"
clear_color = [0.1, 0.2, 0.3, 1.0]

[log]
level = "debug"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "sprites", cfg.Window.Title)
	assert.Equal(t, "sprites", cfg.Graphics.ApplicationName)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, uint32(600), cfg.Window.Height)
	assert.True(t, cfg.Window.Resizable, "unset keys keep their defaults")
	assert.Equal(t, PowerPreferenceHighPerformance, cfg.Graphics.PowerPreference)
	assert.Equal(t, []string{"fifo", "immediate"}, cfg.Graphics.PresentModes)
	assert.Equal(t, Duration(2*time.Second), cfg.Graphics.FenceTimeout)
	assert.Equal(t, uint64(2*time.Second), cfg.Graphics.FenceTimeout.Nanoseconds())
	assert.Equal(t, [4]float32{0.1, 0.2, 0.3, 1.0}, cfg.Graphics.ClearColor)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mailbox", "fifo", "relaxed", "immediate"}, cfg.Graphics.PresentModes)
	assert.Equal(t, ^uint64(0), cfg.Graphics.FenceTimeout.Nanoseconds())
	require.NoError(t, Default().Validate())
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"present mode": "[graphics]\npresent_modes = [\"vsync\"]\n",
		"power":        "[graphics]\npower_preference = \"turbo\"\n",
		"size":         "[window]\nwidth = 0\n",
		"color":        "[graphics]\nclear_color = [2.0, 0.0, 0.0, 1.0]\n",
		"duration":     "[graphics]\nfence_timeout = \"soon\"\n",
		"syntax":       "[window\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Graphics.FenceTimeout = Duration(250 * time.Millisecond)
	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Graphics.FenceTimeout, back.Graphics.FenceTimeout)
	assert.Equal(t, cfg.Window, back.Window)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestPresentationChanged(t *testing.T) {
	a, b := Default(), Default()
	assert.False(t, a.PresentationChanged(b))
	b.Graphics.PresentModes = []string{"immediate"}
	assert.True(t, a.PresentationChanged(b))
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima2d.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644))

	// A write can surface as several events (truncate, then data); wait for the final content.
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case cfg := <-changes:
			done = cfg.Log.Level == "warn"
		case <-timeout:
			t.Fatal("no reload observed")
		}
	}

	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}

func TestLoadWrapsCause(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Contains(t, err.Error(), "read config "+dir)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[window\nwidth = "), 0o644))
	_, err = Load(bad)
	var decodeErr *toml.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, err.Error(), "parse config")
}

func TestWatcherCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	w, err := Watch(path, func(*Config) {})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}
