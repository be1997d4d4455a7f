// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SHAREPOINT_TENANT_ID", "contoso")
	t.Setenv("SHAREPOINT_CLIENT_ID", "sp-client")
	t.Setenv("SHAREPOINT_CLIENT_SECRET", "sp-secret")
	t.Setenv("WEBEX_INTEGRATION_CLIENT_ID", "webex-client")
	t.Setenv("WEBEX_INTEGRATION_CLIENT_SECRET", "webex-secret")
	t.Setenv("WEBEX_BOT_TOKEN", "bot-token")
	t.Setenv("WEBEX_BOT_ROOM_ID", "room-1")
	for _, name := range []string{
		"PARAM_STORE", "PARAM_PREFIX", "PARAM_CACHE_TTL_SEC", "NATS_URL", "SCHEDULE",
		"REPORT_STREAM", "REPORT_SUBJECT", "USE_MSGPACK", "LOG_FORMAT", "PORT", "BIND",
		"WEBEX_API_URL", "WEBEX_TOKEN_URL", "GRAPH_API_URL",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ssm", cfg.ParamStore)
	assert.Equal(t, "/sharepoint-webex", cfg.ParamPrefix)
	assert.Equal(t, 5*time.Minute, cfg.ParamCacheTTL)
	assert.Equal(t, "sharepoint_webex", cfg.ReportStream)
	assert.Equal(t, "sharepoint_webex.run_report", cfg.ReportSubject)
	assert.Equal(t, "https://webexapis.com/v1", cfg.WebexAPIURL)
	assert.Equal(t, "https://webexapis.com/v1/access_token", cfg.WebexTokenURL)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.GraphAPIURL)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "*", cfg.Bind)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.Schedule)
	assert.False(t, cfg.UseMsgpack)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PARAM_STORE", " NATS ")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("PARAM_CACHE_TTL_SEC", "30")
	t.Setenv("SCHEDULE", " @every 15m ")
	t.Setenv("USE_MSGPACK", "yes")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.ParamStore)
	assert.Equal(t, 30*time.Second, cfg.ParamCacheTTL)
	assert.Equal(t, "@every 15m", cfg.Schedule)
	assert.True(t, cfg.UseMsgpack)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing required variable", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("WEBEX_BOT_ROOM_ID", "")
		_, err := LoadConfig()
		assert.EqualError(t, err, "WEBEX_BOT_ROOM_ID environment variable is required")
	})
	t.Run("unknown parameter store", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PARAM_STORE", "vault")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "PARAM_STORE")
	})
	t.Run("nats store without NATS", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PARAM_STORE", "nats")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "NATS_URL")
	})
}

func TestParseRunConfig(t *testing.T) {
	rc := parseRunConfig(
		`{"columns": {"startdatetime": "Kick-off"}, "nicknames": {" JD ": {"email": "jane@example.com", "name": "Jane Doe"}}}`,
		`{"duration": 45, "noCohosts": true}`,
		discardLogger(),
	)
	assert.Equal(t, map[string]string{"startdatetime": "Kick-off"}, rc.Columns)
	assert.Equal(t, map[string]Nickname{"jd": {Email: "jane@example.com", Name: "Jane Doe"}}, rc.Nicknames)
	assert.Equal(t, map[string]any{"duration": 45.0, "noCohosts": true}, rc.Defaults)
}

func TestParseRunConfigIsLenient(t *testing.T) {
	rc := parseRunConfig(`{"columns": "oops", "nicknames": {"jd": {"email": "jane@example.com"}}}`, `not json`, discardLogger())
	assert.Empty(t, rc.Columns, "a malformed part falls back to defaults")
	assert.Contains(t, rc.Nicknames, "jd", "other parts still load")
	assert.Empty(t, rc.Defaults)

	rc = parseRunConfig("", "", discardLogger())
	assert.NotNil(t, rc.Columns)
	assert.NotNil(t, rc.Nicknames)
	assert.NotNil(t, rc.Defaults)
}
