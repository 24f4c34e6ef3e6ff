package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "telemetryd.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, DefaultListen, c.Listen)
	assert.Equal(t, DefaultBatchSize, c.BatchSize)
	assert.Equal(t, 500*time.Millisecond, c.BatchInterval)
	assert.Equal(t, uint8(0xA8), c.INTCookiePrefix)
	assert.Equal(t, uint8(0xAA), c.MEFCookiePrefix)
	assert.True(t, *c.FallbackToMEFLoopDown)
	assert.Equal(t, []string{"evpl", "epl"}, c.TableGroupAllowed)
	assert.Equal(t, uint64(5), c.Retry.Attempts)
	assert.Equal(t, 3*time.Second, c.Retry.Interval)
}

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "overrides",
			content: `
listen: 127.0.0.1:9000
batch_size: -1
batch_interval: 2s
int_cookie_prefix: 0xA9
fallback_to_mef_loop_down: false
table_group_allowed: [evpl]
retry:
  attempts: 2
  interval: 100ms
netlink:
  enabled: true
  switch_id: "00:00:00:00:00:00:00:01"
pprof: true
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "127.0.0.1:9000", c.Listen)
				assert.Equal(t, -1, c.BatchSize)
				assert.Equal(t, 2*time.Second, c.BatchInterval)
				assert.Equal(t, uint8(0xA9), c.INTCookiePrefix)
				assert.False(t, *c.FallbackToMEFLoopDown)
				assert.Equal(t, []string{"evpl"}, c.TableGroupAllowed)
				assert.Equal(t, uint64(2), c.Retry.Attempts)
				assert.Equal(t, 100*time.Millisecond, c.Retry.Interval)
				assert.Equal(t, Netlink{Enabled: true, SwitchID: "00:00:00:00:00:00:00:01"}, c.Netlink)
				assert.True(t, c.Pprof)
				assert.Equal(t, DefaultLogFile, c.LogFile)
			},
		},
		{name: "same_prefixes", content: "int_cookie_prefix: 0xAA\n", wantErr: true},
		{name: "negative_rate", content: "dispatch_rate: -1\n", wantErr: true},
		{name: "netlink_without_switch", content: "netlink:\n  enabled: true\n", wantErr: true},
		{name: "malformed", content: "batch_size: [\n", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load(writeConfig(t, tc.content))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			if !assert.NoError(t, err) {
				return
			}
			tc.check(t, c)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
