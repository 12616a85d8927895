package core

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// Backend selects the driver implementation.
type Backend string

const (
	BackendVulkan Backend = "vulkan"
	BackendSoft   Backend = "soft"
)

type WindowConfig struct {
	// Window starting position x axis.
	PosX uint32 `toml:"pos_x"`
	// Window starting position y axis.
	PosY uint32 `toml:"pos_y"`
	// Window starting width.
	Width uint32 `toml:"width"`
	// Window starting height.
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	Backend Backend `toml:"backend"`
	// Number of frames the host may record ahead of the device.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Prefer mailbox presentation over FIFO when the surface supports it.
	PreferMailbox bool       `toml:"prefer_mailbox"`
	ClearColor    [4]float32 `toml:"clear_color"`
	Debug         bool       `toml:"debug"`
}

type HeadlessConfig struct {
	// Frames to run before the loop exits. Zero means until interrupted.
	Frames uint64 `toml:"frames"`
	// Frame numbers at which the headless surface changes size.
	ResizeAt []uint64 `toml:"resize_at"`
}

// Config is the application configuration read from lumen.toml.
type Config struct {
	Name     string         `toml:"name"`
	LogLevel string         `toml:"log_level"`
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Headless HeadlessConfig `toml:"headless"`
}

func DefaultConfig() *Config {
	return &Config{
		Name:     "Lumen",
		LogLevel: "info",
		Window: WindowConfig{
			PosX:   100,
			PosY:   100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Backend:        BackendVulkan,
			FramesInFlight: 2,
			PreferMailbox:  true,
			ClearColor:     [4]float32{0.0, 0.0, 0.2, 1.0},
		},
	}
}

// LoadConfig reads the configuration at path on top of the defaults. A
// missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			LogInfo("no configuration found at %s, using defaults", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading configuration %s", path)
	}
	if err := ParseConfig(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes TOML data into cfg and validates the result.
func ParseConfig(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Renderer.FramesInFlight == 0 {
		return errors.Mark(errors.New("renderer.frames_in_flight must be > 0"), ErrInvalidArgument)
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoft:
	default:
		return errors.Mark(errors.Newf("unknown renderer backend %q", c.Renderer.Backend), ErrInvalidArgument)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return errors.Mark(errors.Newf("window size %dx%d must be non-zero", c.Window.Width, c.Window.Height), ErrInvalidArgument)
	}
	return nil
}
