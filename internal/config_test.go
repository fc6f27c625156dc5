package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)

	config, err := LoadConfig()

	req.NoError(err)
	req.Equal("default", config.SegmentName)
	req.Equal(100*time.Millisecond, config.PollInterval)
	req.Equal(5*time.Second, config.ScanInterval)
	req.Equal(30*time.Second, config.EvictionThreshold)
	req.Equal(5*time.Second, config.ServerWaitTimeout)
	req.Equal(50, config.HistoryLimit)
	req.Equal("*", config.CharReplacement)

	policy := config.LockPolicy()
	req.Equal(50*time.Microsecond, policy.Backoff.BaseDelay)
	req.Equal(5*time.Millisecond, policy.Backoff.MaxDelay)
	req.Equal(2000, policy.MaxRetries)
}

func TestLoadConfig_From_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("SEGMENT_NAME", "lobby")
	t.Setenv("EVICTION_THRESHOLD", "1m")
	t.Setenv("LOCK_MAX_RETRIES", "0")

	config, err := LoadConfig()

	req.NoError(err)
	req.Equal("lobby", config.SegmentName)
	req.Equal(time.Minute, config.EvictionThreshold)
	req.Zero(config.LockPolicy().MaxRetries)
}

func TestLoadConfig_From_Dotenv_File(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat.env")
	req.NoError(os.WriteFile(path, []byte("CLIENT_NAME=alice\nHISTORY_LIMIT=20\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("CLIENT_NAME")
		_ = os.Unsetenv("HISTORY_LIMIT")
	})

	config, err := LoadConfig(path)

	req.NoError(err)
	req.Equal("alice", config.ClientName)
	req.Equal(20, config.HistoryLimit)
}

func TestLoadConfig_Rejects_Invalid_Values(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"threshold not above scan interval", "EVICTION_THRESHOLD", "2s"},
		{"zero poll interval", "POLL_INTERVAL", "0s"},
		{"segment name with a slash", "SEGMENT_NAME", "../etc"},
		{"unknown log level", "LOG_LEVEL", "CHATTY"},
		{"history beyond the ring", "HISTORY_LIMIT", "5000"},
		{"two replacement characters", "CHARACTER_REPLACEMENT", "##"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestCharacterRune(t *testing.T) {
	req := require.New(t)

	r, err := CharacterRune("€")
	req.NoError(err)
	req.Equal('€', r)

	_, err = CharacterRune("")
	req.Error(err)
}
