package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesReplicaSet(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "shard0.config", `
peers:
  - "127.0.0.1:9000"
  - "127.0.0.1:9001"
self: 1
metrics: "127.0.0.1:9100"
`)

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, rs.Peers, 2)
	assert.Equal(t, "127.0.0.1:9100", rs.Metrics)

	addr, err := rs.SelfAddress()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", addr)
}

func TestSelfAddressOutOfRange(t *testing.T) {
	rs := ReplicaSet{Peers: []string{"x"}, Self: 5}
	_, err := rs.SelfAddress()
	assert.Error(t, err)
}

func TestLoadRejectsEmptyReplicaSet(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "empty.config", "peers: []\nself: 0\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestShardAndTimestampPaths(t *testing.T) {
	assert.Equal(t, "/etc/chronokv/cfg0.config", ShardPath("/etc/chronokv/cfg", 0))
	assert.Equal(t, "/etc/chronokv/cfg2.config", ShardPath("/etc/chronokv/cfg", 2))
	assert.Equal(t, "/etc/chronokv/cfg.tss.config", TimestampPath("/etc/chronokv/cfg"))
}

func TestIsTimestampAuthority(t *testing.T) {
	assert.True(t, IsTimestampAuthority("/etc/chronokv/cfg.tss.config"))
	assert.False(t, IsTimestampAuthority("/etc/chronokv/cfg0.config"))
}

func TestBenchConfigPaths(t *testing.T) {
	paths := BenchConfigPaths("/x/cfg", 3)
	assert.Equal(t, []string{"/x/cfg0.config", "/x/cfg1.config", "/x/cfg2.config"}, paths)
}
