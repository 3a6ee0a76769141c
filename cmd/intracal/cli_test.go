package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intracal/internal/config"
	"intracal/internal/model"
)

func TestParseCookies(t *testing.T) {
	cookies, err := parseCookies([]string{"sessionid=abc", " csrftoken = tok "})
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, "sessionid", cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.Equal(t, "csrftoken", cookies[1].Name)
	assert.Equal(t, "tok", cookies[1].Value)

	_, err = parseCookies([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseCookies([]string{"=x"})
	assert.Error(t, err)
}

func TestParseMonthArg(t *testing.T) {
	d, err := parseMonthArg("2024-03")
	require.NoError(t, err)
	assert.Equal(t, model.NewDate(2024, 3, 1), d)

	_, err = parseMonthArg("marzo")
	assert.ErrorContains(t, err, "YYYY-MM")
}

func TestSnapshotOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "0.0.0.0:9000"
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	cfg.Snapshot.Cookies = map[string]string{"sessionid": "svc-session"}

	opts := snapshotOptions(cfg, "", "")
	assert.Equal(t, "http://127.0.0.1:9000/calendario/", opts.URL)
	assert.Equal(t, cfg.Snapshot.OutputPath, opts.OutputPath)
	assert.Equal(t, "admin", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, map[string]string{"sessionid": "svc-session"}, opts.Cookies, "the page loads with the service session")

	opts = snapshotOptions(cfg, "http://other/", "x.png")
	assert.Equal(t, "http://other/", opts.URL)
	assert.Equal(t, "x.png", opts.OutputPath)
}

func TestJobsAndReload(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OverlayCacheDir = t.TempDir()
	a, err := newApp(cfg)
	require.NoError(t, err)

	jobs := a.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "overlays", jobs[0].Name)

	cfg.Snapshot.Enabled = true
	assert.Len(t, a.jobs(), 2)

	next := config.DefaultConfig()
	next.Overlays = []config.OverlayConfig{{ID: "feriados", URL: "http://127.0.0.1:1/f.ics"}}
	a.reload(next)
	require.Len(t, a.overlays.Sources(), 1)
	assert.Equal(t, "feriados", a.overlays.Sources()[0].ID)

	bad := config.DefaultConfig()
	bad.Backend.BaseURL = "not a url"
	a.reload(bad)
	assert.Len(t, a.overlays.Sources(), 1, "invalid config is ignored")
}

func TestLoadConfigAppliesListenOverride(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	listenAddr = "127.0.0.1:9999"
	t.Cleanup(func() { configPath, listenAddr = "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.FileExists(t, configPath, "first run writes the default file")
}
