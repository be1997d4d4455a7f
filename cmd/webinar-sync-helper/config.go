// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the webinar-sync-helper service.
type Config struct {
	// SharePoint app registration
	SharePointTenantID     string
	SharePointClientID     string
	SharePointClientSecret string

	// Webex integration (acts as the webinar host) and bot (posts run logs)
	WebexClientID     string
	WebexClientSecret string
	WebexBotToken     string
	WebexBotRoomID    string

	// Optional operator parameters, as JSON
	SharePointParams       string
	WebexIntegrationParams string

	// Parameter store configuration
	ParamStore    string // "ssm" or "nats"
	ParamPrefix   string
	ParamCacheTTL time.Duration

	// AWS configuration
	AWSRegion     string
	AssumeRoleARN string // Optional: IAM role ARN to assume via STS

	// NATS configuration; NATS is optional unless PARAM_STORE=nats
	NATSURL       string
	NATSKVBucket  string
	ReportStream  string
	ReportSubject string
	UseMsgpack    bool

	// Cron schedule; empty runs a single pass and exits
	Schedule string

	// API endpoints
	WebexAPIURL   string
	WebexTokenURL string
	GraphAPIURL   string

	// Server configuration
	Port string
	Bind string

	// Logging
	Debug     bool
	LogFormat string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		SharePointTenantID:     os.Getenv("SHAREPOINT_TENANT_ID"),
		SharePointClientID:     os.Getenv("SHAREPOINT_CLIENT_ID"),
		SharePointClientSecret: os.Getenv("SHAREPOINT_CLIENT_SECRET"),
		WebexClientID:          os.Getenv("WEBEX_INTEGRATION_CLIENT_ID"),
		WebexClientSecret:      os.Getenv("WEBEX_INTEGRATION_CLIENT_SECRET"),
		WebexBotToken:          os.Getenv("WEBEX_BOT_TOKEN"),
		WebexBotRoomID:         os.Getenv("WEBEX_BOT_ROOM_ID"),
		SharePointParams:       os.Getenv("SHAREPOINT_PARAMS"),
		WebexIntegrationParams: os.Getenv("WEBEX_INTEGRATION_PARAMS"),
		ParamStore:             strings.ToLower(strings.TrimSpace(os.Getenv("PARAM_STORE"))),
		ParamPrefix:            os.Getenv("PARAM_PREFIX"),
		ParamCacheTTL:          time.Duration(parseIntEnv("PARAM_CACHE_TTL_SEC", 300)) * time.Second,
		AWSRegion:              os.Getenv("AWS_REGION"),
		AssumeRoleARN:          os.Getenv("AWS_ASSUME_ROLE_ARN"),
		NATSURL:                os.Getenv("NATS_URL"),
		NATSKVBucket:           os.Getenv("NATS_KV_BUCKET"),
		ReportStream:           os.Getenv("REPORT_STREAM"),
		ReportSubject:          os.Getenv("REPORT_SUBJECT"),
		UseMsgpack:             parseBooleanEnv("USE_MSGPACK"),
		Schedule:               strings.TrimSpace(os.Getenv("SCHEDULE")),
		WebexAPIURL:            os.Getenv("WEBEX_API_URL"),
		WebexTokenURL:          os.Getenv("WEBEX_TOKEN_URL"),
		GraphAPIURL:            os.Getenv("GRAPH_API_URL"),
		Port:                   os.Getenv("PORT"),
		Bind:                   os.Getenv("BIND"),
		Debug:                  parseBooleanEnv("DEBUG"),
		LogFormat:              strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
	}

	required := []struct {
		name  string
		value string
	}{
		{"SHAREPOINT_TENANT_ID", cfg.SharePointTenantID},
		{"SHAREPOINT_CLIENT_ID", cfg.SharePointClientID},
		{"SHAREPOINT_CLIENT_SECRET", cfg.SharePointClientSecret},
		{"WEBEX_INTEGRATION_CLIENT_ID", cfg.WebexClientID},
		{"WEBEX_INTEGRATION_CLIENT_SECRET", cfg.WebexClientSecret},
		{"WEBEX_BOT_TOKEN", cfg.WebexBotToken},
		{"WEBEX_BOT_ROOM_ID", cfg.WebexBotRoomID},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("%s environment variable is required", r.name)
		}
	}

	if cfg.ParamStore == "" {
		cfg.ParamStore = "ssm"
	}
	if cfg.ParamStore != "ssm" && cfg.ParamStore != "nats" {
		return nil, fmt.Errorf("PARAM_STORE must be \"ssm\" or \"nats\", got %q", cfg.ParamStore)
	}
	if cfg.ParamStore == "nats" && cfg.NATSURL == "" {
		return nil, fmt.Errorf("NATS_URL environment variable is required when PARAM_STORE is nats")
	}
	if cfg.ParamPrefix == "" {
		cfg.ParamPrefix = "/sharepoint-webex"
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	if cfg.NATSKVBucket == "" {
		cfg.NATSKVBucket = "sharepoint-webex"
	}
	if cfg.ReportStream == "" {
		cfg.ReportStream = "sharepoint_webex"
	}
	if cfg.ReportSubject == "" {
		cfg.ReportSubject = defaultReportTopic
	}
	if cfg.WebexAPIURL == "" {
		cfg.WebexAPIURL = defaultWebexAPIURL
	}
	if cfg.WebexTokenURL == "" {
		cfg.WebexTokenURL = webexTokenURL
	}
	if cfg.GraphAPIURL == "" {
		cfg.GraphAPIURL = defaultGraphAPIURL
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Bind == "" {
		cfg.Bind = "*"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	return cfg, nil
}

// parseRunConfig builds the per-pass operator configuration from the
// optional JSON parameters: SHAREPOINT_PARAMS holds {"columns": {...},
// "nicknames": {...}} and WEBEX_INTEGRATION_PARAMS the global defaults. Each part is independent: a part that does not
// parse is ignored with a note and its defaults are used.
func parseRunConfig(sharePointParams, webexParams string, log *slog.Logger) RunConfig {
	rc := RunConfig{
		Columns:   map[string]string{},
		Nicknames: map[string]Nickname{},
		Defaults:  map[string]any{},
	}

	if sharePointParams != "" {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(sharePointParams), &raw); err != nil {
			log.With(errKey, err).Warn("could not parse SHAREPOINT_PARAMS, using default columns")
		} else {
			var columns map[string]string
			if err := json.Unmarshal(raw["columns"], &columns); err != nil || columns == nil {
				log.Info("no valid column overrides in SHAREPOINT_PARAMS, using default columns")
			} else {
				rc.Columns = columns
				log.Info("column overrides loaded from SHAREPOINT_PARAMS")
			}

			var nicknames map[string]Nickname
			if err := json.Unmarshal(raw["nicknames"], &nicknames); err != nil || nicknames == nil {
				log.Info("could not load optional nicknames from SHAREPOINT_PARAMS")
			} else {
				for nick, entry := range nicknames {
					rc.Nicknames[strings.ToLower(strings.TrimSpace(nick))] = entry
				}
				log.Info("nicknames loaded from SHAREPOINT_PARAMS")
			}
		}
	}

	if webexParams != "" {
		var defaults map[string]any
		if err := json.Unmarshal([]byte(webexParams), &defaults); err != nil {
			log.With(errKey, err).Warn("could not parse WEBEX_INTEGRATION_PARAMS, using built-in defaults")
		} else if defaults != nil {
			rc.Defaults = defaults
			log.Info("global webinar defaults loaded from WEBEX_INTEGRATION_PARAMS")
		}
	}

	return rc
}

// parseBooleanEnv parses a boolean environment variable with common truthy values.
func parseBooleanEnv(envVar string) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))
	truthyValues := []string{"true", "yes", "t", "y", "1"}
	return slices.Contains(truthyValues, value)
}

// parseIntEnv parses an integer environment variable with a default value.
func parseIntEnv(envVar string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(envVar))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
