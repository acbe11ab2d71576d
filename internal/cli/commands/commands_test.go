package commands

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wbkfs/internal/daemon"
)

func newSettingsFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addSettingsFlags(fs)
	return fs
}

func baseSettings() *daemon.GlobalSettings {
	return &daemon.GlobalSettings{
		LogLevel:    "none",
		ListenAddr:  "127.0.0.1:12049",
		ShareName:   "wbkfs",
		WritePolicy: "replace",
	}
}

func TestApplySettingsFlags(t *testing.T) {
	t.Parallel()

	t.Run("no flags", func(t *testing.T) {
		t.Parallel()
		s := baseSettings()
		changed, err := applySettingsFlags(newSettingsFlags(), s)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, baseSettings(), s)
	})

	t.Run("all flags", func(t *testing.T) {
		t.Parallel()
		fs := newSettingsFlags()
		require.NoError(t, fs.Parse([]string{
			"--logging", "OFF",
			"--listen", "127.0.0.1:2049",
			"--share", "scratch",
			"--metrics-addr", "127.0.0.1:9100",
			"--max-buffers", "64",
			"--write-policy", "Extend",
			"--exclude", "build", "--exclude", "*.o",
			"--attr-cache-ttl-ms", "-1",
		}))

		s := baseSettings()
		changed, err := applySettingsFlags(fs, s)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "none", s.LogLevel)
		assert.Equal(t, "127.0.0.1:2049", s.ListenAddr)
		assert.Equal(t, "scratch", s.ShareName)
		assert.Equal(t, "127.0.0.1:9100", s.MetricsAddr)
		assert.Equal(t, 64, s.MaxBuffers)
		assert.Equal(t, "extend", s.WritePolicy)
		assert.Equal(t, []string{"build", "*.o"}, s.BackupExcludes)
		assert.Equal(t, -1, s.AttrCacheTTLMs)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Parallel()
		fs := newSettingsFlags()
		require.NoError(t, fs.Parse([]string{"--write-policy", "append"}))
		_, err := applySettingsFlags(fs, baseSettings())
		assert.Error(t, err)
	})
}

func TestSplitHostPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr    string
		host    string
		port    int
		wantErr bool
	}{
		{"127.0.0.1:12049", "127.0.0.1", 12049, false},
		{":2049", "127.0.0.1", 2049, false},
		{"0.0.0.0:2049", "127.0.0.1", 2049, false},
		{"localhost", "", 0, true},
		{"127.0.0.1:nfs", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := splitHostPort(tt.addr)
		if tt.wantErr {
			assert.Error(t, err, tt.addr)
			continue
		}
		require.NoError(t, err, tt.addr)
		assert.Equal(t, tt.host, host)
		assert.Equal(t, tt.port, port)
	}
}

func TestFormatBuildDate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown", formatBuildDate("unknown"))
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, formatBuildDate("1700000000"))
}
