package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	filename := filepath.Join(t.TempDir(), "proctor.json")
	require.NoError(t, os.WriteFile(filename, []byte(body), 0644))
	return filename
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, `{"evidenceDir": "`+filepath.Join(dir, "evidence")+`"}`)
	cfg, err := Load(filename)
	require.NoError(t, err)
	require.Equal(t, ":8077", cfg.HTTPAddr)
	require.Equal(t, "proctor.sqlite", cfg.DBPath)
	require.True(t, cfg.AutoStart)
	require.Equal(t, 100, cfg.Camera.PollIntervalMS)
	require.Equal(t, 2000, cfg.Detectors.TimeoutMS)
	require.Equal(t, engine.DefaultPolicy().TickIntervalMS, cfg.Policy.TickIntervalMS)
	require.True(t, cfg.Capture.SnapshotEnabled())
	// Validate creates the evidence directory
	_, err = os.Stat(cfg.EvidenceDir)
	require.NoError(t, err)
}

func TestLoadPartialOverride(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, `{
		"evidenceDir": "`+filepath.Join(dir, "evidence")+`",
		"httpAddr": ":9000",
		"camera": {"frameURL": "http://127.0.0.1:8079/frame.jpg"},
		"policy": {"tickIntervalMS": 200, "detectBudgetMS": 150},
		"capture": {"snapshotOnOpen": false}
	}`)
	cfg, err := Load(filename)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, "http://127.0.0.1:8079/frame.jpg", cfg.Camera.FrameURL)
	// Absent sibling fields keep their defaults
	require.Equal(t, 100, cfg.Camera.PollIntervalMS)
	require.Equal(t, 200, cfg.Policy.TickIntervalMS)
	require.False(t, cfg.Capture.SnapshotEnabled())
	require.Equal(t, 60, cfg.Capture.DurationSeconds)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []string{
		`{"httpAddr": ""}`,
		`{"camera": {"pollIntervalMS": -1}}`,
		`{"policy": {"tickIntervalMS": 0}}`,
		`{"capture": {"prebufferMB": -5}}`,
		`{not json`,
	}
	for _, body := range cases {
		filename := writeConfig(t, body)
		_, err := Load(filename)
		require.Error(t, err, "config: %v", body)
	}

	// Policy errors carry the configuration sentinel
	filename := writeConfig(t, `{"policy": {"tickIntervalMS": 0}}`)
	_, err := Load(filename)
	require.True(t, errors.Is(err, engine.ErrInvalidConfiguration))

	_, err = Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, `{"evidenceDir": "`+filepath.Join(dir, "evidence")+`"}`)

	changed := make(chan *Config, 1)
	w, err := NewWatcher(logs.NewTestingLog(t), filename, func(cfg *Config) {
		changed <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	body := `{"evidenceDir": "` + filepath.Join(dir, "evidence") + `", "httpAddr": ":9100"}`
	require.NoError(t, os.WriteFile(filename, []byte(body), 0644))

	select {
	case cfg := <-changed:
		require.Equal(t, ":9100", cfg.HTTPAddr)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}
}

func TestWatcherIgnoresInvalid(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, `{"evidenceDir": "`+filepath.Join(dir, "evidence")+`"}`)

	changed := make(chan *Config, 1)
	w, err := NewWatcher(logs.NewTestingLog(t), filename, func(cfg *Config) {
		changed <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filename, []byte(`{broken`), 0644))

	select {
	case <-changed:
		t.Fatal("A broken config must not reach onChange")
	case <-time.After(2 * reloadSettleTime):
	}
}
