package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	// Write then rename so the watcher never sees a half written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestConfigWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	writeFile(t, path, "log_level = \"info\"\n")

	reloaded := make(chan *core.Config, 16)
	cw, err := NewConfigWatcher(path, func(cfg *core.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()
	defer core.SetLogLevel("debug")

	writeFile(t, path, "log_level = \"warn\"\n[renderer]\nclear_color = [1.0, 0.0, 0.0, 1.0]\n")

	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.LogLevel != "warn" {
				continue
			}
			if cfg.Renderer.ClearColor != [4]float32{1, 0, 0, 1} {
				t.Errorf("clear color = %v", cfg.Renderer.ClearColor)
			}
			return
		case <-timeout:
			t.Fatal("no reload within 5s")
		}
	}
}

func TestReloadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	writeFile(t, path, "log_level = \"info\"\n")

	called := false
	cw, err := NewConfigWatcher(path, func(*core.Config) { called = true })
	if err != nil {
		t.Fatal(err)
	}
	// Stop the goroutine so reload runs only here.
	if err := cw.Close(); err != nil {
		t.Fatal(err)
	}

	for _, content := range []string{
		"log_level = \"loud\"\n",
		"[renderer]\nframes_in_flight = 0\n",
		"not toml at all",
	} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := cw.reload(); err == nil {
			t.Errorf("reload accepted %q", content)
		}
	}
	if called {
		t.Error("callback ran for an invalid file")
	}
	if err := cw.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
