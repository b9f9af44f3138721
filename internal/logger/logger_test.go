package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		development bool
		wantErr     bool
	}{
		{name: "debug production", level: "debug", development: false},
		{name: "info production", level: "info", development: false},
		{name: "warn development", level: "warn", development: true},
		{name: "error development", level: "error", development: true},
		{name: "invalid level", level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewLogger(tt.level, tt.development)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, log)
		})
	}
}

type fakeLevelConfig struct {
	levels      map[string]string
	development bool
}

func (f fakeLevelConfig) GetComponentLevel(component string) string {
	if level, ok := f.levels[component]; ok {
		return level
	}
	return "info"
}

func (f fakeLevelConfig) IsDevelopment() bool { return f.development }

func TestNewComponentLoggerFromConfig(t *testing.T) {
	cfg := fakeLevelConfig{levels: map[string]string{"store": "error"}}

	log := NewComponentLoggerFromConfig("store", cfg)
	require.NotNil(t, log)

	// Nil config falls back to the default logger.
	log = NewComponentLoggerFromConfig("indexer", nil)
	require.NotNil(t, log)

	// Invalid configured level falls back instead of failing.
	bad := fakeLevelConfig{levels: map[string]string{"bus": "shout"}}
	log = NewComponentLoggerFromConfig("bus", bad)
	require.NotNil(t, log)
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	require.NotNil(t, log)

	// Should not panic
	log.Info("message")
	log.WithComponent("test").Debugw("structured", "key", "value")
	log.WithChain("sepolia").Warnf("formatted %d", 1)
	assert.NoError(t, log.Close())
}
