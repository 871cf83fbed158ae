package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/ecosystem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = "../../../pkg/ecosystem/testdata/ecosystem.config.cjs"

func TestRenderConfigSummary(t *testing.T) {
	config, err := ecosystem.ValidateConfigFile(exampleConfig, false)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, renderConfigSummary(&out, ecosystem.GetConfigSummary(config)))

	assert.Contains(t, out.String(), "dev-news-bot")
	assert.Contains(t, out.String(), "10s")
}

func TestRenderAppStatuses(t *testing.T) {
	apps := []domain.AppStatus{
		{
			Name:          "dev-news-bot",
			State:         "running",
			PID:           4242,
			UptimeSeconds: 75.4,
			Restarts:      3,
			RestartCount:  1,
			MaxRestarts:   10,
			LastExit:      &domain.ExitInfo{ExitCode: 1, Reason: "exited"},
			Resources:     &domain.Resources{RSSBytes: 50 * 1024 * 1024, CPUPercent: 2.5},
		},
		{Name: "idle", State: "registered", MaxRestarts: 16},
	}

	var out bytes.Buffer
	require.NoError(t, renderAppStatuses(&out, apps))

	text := out.String()
	assert.Contains(t, text, "4242")
	assert.Contains(t, text, "1m15s")
	assert.Contains(t, text, "1/10")
	assert.Contains(t, text, "exited, code 1")
	assert.Contains(t, text, "50.0 MB")
	assert.Contains(t, text, "idle")
}

func TestRenderRuns(t *testing.T) {
	exitCode := 0
	uptime := int64(1500)
	exitedAt := time.Now()
	runs := []domain.Run{
		{ID: "run-2", App: "bot", PID: 11, StartedAt: time.Now(), Reason: "autorestart"},
		{ID: "run-1", App: "bot", PID: 10, StartedAt: time.Now(), ExitedAt: &exitedAt, ExitCode: &exitCode, UptimeMs: &uptime, Reason: "exited"},
	}

	var out bytes.Buffer
	require.NoError(t, renderRuns(&out, runs))
	assert.Contains(t, out.String(), "run-2")
	assert.Contains(t, out.String(), "1.5s")
}

func TestFormatExit(t *testing.T) {
	assert.Equal(t, "-", formatExit(nil))
	assert.Equal(t, "stopped, signal terminated", formatExit(&domain.ExitInfo{Reason: "stopped", Signal: "terminated", ExitCode: -1}))
}

func TestConvertCommand(t *testing.T) {
	output := filepath.Join(t.TempDir(), "ecosystem.yaml")

	command := &convertCommand{Output: output}
	command.Config = exampleConfig
	require.NoError(t, command.Execute(nil))

	converted, err := ecosystem.LoadConfigFromFile(output)
	require.NoError(t, err)
	require.Len(t, converted.Apps, 1)
	assert.Equal(t, "dev-news-bot", converted.Apps[0].Name)
}

func TestRunAppActionUnknown(t *testing.T) {
	err := runAppAction(context.Background(), nil, appAction("explode"), "bot")
	require.Error(t, err)
}
