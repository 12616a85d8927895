package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestParseConfig(t *testing.T) {
	cfg := DefaultConfig()
	data := []byte(`
name = "Test"
log_level = "warn"

[window]
width = 640
height = 480

[renderer]
backend = "soft"
frames_in_flight = 3

[headless]
frames = 10
resize_at = [4, 8]
`)
	if err := ParseConfig(data, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Test" || cfg.LogLevel != "warn" {
		t.Errorf("name/level = %q/%q", cfg.Name, cfg.LogLevel)
	}
	if cfg.Window.Width != 640 || cfg.Window.Height != 480 {
		t.Errorf("window = %dx%d", cfg.Window.Width, cfg.Window.Height)
	}
	// Unset keys keep their defaults.
	if cfg.Window.PosX != 100 || !cfg.Renderer.PreferMailbox {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Renderer.Backend != BackendSoft || cfg.Renderer.FramesInFlight != 3 {
		t.Errorf("renderer = %+v", cfg.Renderer)
	}
	if cfg.Headless.Frames != 10 || len(cfg.Headless.ResizeAt) != 2 {
		t.Errorf("headless = %+v", cfg.Headless)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero frames in flight", "[renderer]\nframes_in_flight = 0\n"},
		{"unknown backend", "[renderer]\nbackend = \"metal\"\n"},
		{"zero window", "[window]\nwidth = 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseConfig([]byte(tt.data), DefaultConfig())
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want invalid argument", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Window != DefaultConfig().Window {
		t.Errorf("missing file did not yield defaults: %+v", cfg)
	}

	path := filepath.Join(dir, "lumen.toml")
	if err := os.WriteFile(path, []byte("name = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted a mistyped name")
	}
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	first, second := "first", "second"

	handler := func(name string, handled bool) FnOnEvent {
		return func(code SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
			calls = append(calls, name)
			return handled
		}
	}
	if !bus.Register(EVENT_CODE_RESIZED, &first, handler(first, false)) {
		t.Fatal("first registration rejected")
	}
	if bus.Register(EVENT_CODE_RESIZED, &first, handler(first, false)) {
		t.Error("duplicate registration accepted")
	}
	bus.Register(EVENT_CODE_RESIZED, &second, handler(second, true))

	if !bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{}) {
		t.Error("event not reported as handled")
	}
	if len(calls) != 2 || calls[0] != first || calls[1] != second {
		t.Errorf("calls = %v", calls)
	}

	calls = nil
	if !bus.Unregister(EVENT_CODE_RESIZED, &second) {
		t.Fatal("unregister failed")
	}
	if bus.Unregister(EVENT_CODE_RESIZED, &second) {
		t.Error("second unregister succeeded")
	}
	if bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{}) {
		t.Error("unhandled event reported as handled")
	}
	if bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}) {
		t.Error("event without listeners reported as handled")
	}

	bus.Shutdown()
	calls = nil
	bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{})
	if len(calls) != 0 {
		t.Errorf("listeners survived Shutdown: %v", calls)
	}
}

func TestResultKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{errors.New("plain"), KindUnknown},
		{errors.Mark(errors.New("oom"), ErrOutOfMemory), KindOutOfMemory},
		{errors.Wrap(errors.Mark(errors.New("lost"), ErrDeviceLost), "submitting"), KindDeviceLost},
		{errors.Mark(errors.New("stale"), ErrStale), KindStale},
		{errors.Wrapf(errors.Mark(errors.New("bad"), ErrInvalidArgument), "op %d", 1), KindInvalidArgument},
	}
	for _, tt := range tests {
		if got := ResultKind(tt.err); got != tt.want {
			t.Errorf("ResultKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestAssertf(t *testing.T) {
	Assertf(true, "never")
	defer func() {
		iv, ok := recover().(*InvariantViolation)
		if !ok {
			t.Fatal("Assertf did not panic with an invariant violation")
		}
		if iv.Message != "index 3 out of range" {
			t.Errorf("message = %q", iv.Message)
		}
	}()
	Assertf(false, "index %d out of range", 3)
}

func TestFrameMetrics(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	if got := m.FrameTime(); got < 9.99 || got > 10.01 {
		t.Errorf("frame time = %f, want 10ms", got)
	}
	for i := 0; i < 100; i++ {
		m.Update(0.010)
	}
	// 100 frames of 10ms fill the first second.
	if got := m.FPS(); got < 99 || got > 101 {
		t.Errorf("fps = %f, want about 100", got)
	}
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel("debug")
	if err := SetLogLevel("warn"); err != nil {
		t.Fatal(err)
	}
	if err := SetLogLevel("chatty"); err == nil {
		t.Error("unknown level accepted")
	}
}
