package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	viper.Reset()

	m, err := NewManager()
	require.NoError(t, err)
	return m
}

func TestNewManager_Defaults(t *testing.T) {
	m := newTestManager(t)
	cfg := m.GetConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "predicate", cfg.Matching.Strategy)
	assert.Equal(t, 60.0, cfg.Matching.AcceptanceThreshold)
	assert.Equal(t, 0.6, cfg.Matching.EligibilityThreshold)
	assert.Equal(t, 60.0, cfg.Matching.MinScore)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manager)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(m *Manager) {},
		},
		{
			name:    "bad port",
			mutate:  func(m *Manager) { m.config.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(m *Manager) { m.config.Storage.Driver = "mongodb" },
			wantErr: "invalid storage driver",
		},
		{
			name: "postgres driver requires host",
			mutate: func(m *Manager) {
				m.config.Storage.Driver = "postgres"
				m.config.Database.Host = ""
			},
			wantErr: "database host is required",
		},
		{
			name:    "unknown strategy",
			mutate:  func(m *Manager) { m.config.Matching.Strategy = "fuzzy" },
			wantErr: "invalid matching strategy",
		},
		{
			name:    "acceptance threshold out of range",
			mutate:  func(m *Manager) { m.config.Matching.AcceptanceThreshold = 150 },
			wantErr: "acceptance threshold",
		},
		{
			name:    "eligibility threshold out of range",
			mutate:  func(m *Manager) { m.config.Matching.EligibilityThreshold = 1.5 },
			wantErr: "eligibility threshold",
		},
		{
			name:    "bad log level",
			mutate:  func(m *Manager) { m.config.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			tt.mutate(m)

			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestManager_EnvOverride(t *testing.T) {
	t.Setenv("TRIAL_MATCH_MATCHING_STRATEGY", "weighted")
	m := newTestManager(t)

	assert.Equal(t, "weighted", m.GetConfig().Matching.Strategy)
	assert.NoError(t, m.Validate())
}

func TestManager_DatabaseConnectionString(t *testing.T) {
	m := newTestManager(t)
	dsn := m.GetDatabaseConnectionString()

	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=trial_match")
	assert.Contains(t, dsn, "sslmode=disable")
}
