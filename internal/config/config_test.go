package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanreach/offlinesync/pkg/types"
)

func TestDefault_PassesValidate(t *testing.T) {
	cfg := Default()
	cfg.ShipID = "ship-1"
	cfg.Bus.Brokers = []string{"localhost:9092"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = "bogus"
	cfg.Bus.Brokers = []string{"localhost:9092"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be")
}

func TestValidate_ReplicaRequiresShipID(t *testing.T) {
	cfg := Default()
	cfg.Mode = types.ModeReplica
	cfg.Bus.Brokers = []string{"localhost:9092"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shipId is required")
}

func TestValidate_RejectsEmptyBrokers(t *testing.T) {
	cfg := Default()
	cfg.Mode = types.ModeMaster
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.brokers")
}

func TestValidate_MediaEnabledRequiresEndpointsAndBuckets(t *testing.T) {
	cfg := Default()
	cfg.Mode = types.ModeMaster
	cfg.Bus.Brokers = []string{"localhost:9092"}
	cfg.Media.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints")

	cfg.Media.MasterStore.Endpoint = "minio-master:9000"
	cfg.Media.LocalStore.Endpoint = "minio-local:9000"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buckets")

	cfg.Media.MasterStore.Bucket = "master-media"
	cfg.Media.LocalStore.Bucket = "local-media"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownConflictStrategy(t *testing.T) {
	cfg := Default()
	cfg.Mode = types.ModeMaster
	cfg.Bus.Brokers = []string{"localhost:9092"}
	cfg.Sync.ConflictStrategy = "whatever"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflictStrategy")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OFFLINESYNC_MODE", "master")
	t.Setenv("OFFLINESYNC_SHIP_ID", "ship-7")
	t.Setenv("OFFLINESYNC_BUS_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("OFFLINESYNC_PG_HOST", "pg.internal")
	t.Setenv("OFFLINESYNC_PG_PASSWORD", "secret")
	t.Setenv("OFFLINESYNC_REDIS_HOST", "redis.internal")
	t.Setenv("OFFLINESYNC_API_LISTEN", "0.0.0.0:9999")
	t.Setenv("OFFLINESYNC_CONFLICT_STRATEGY", "merge")
	t.Setenv("OFFLINESYNC_MEDIA_ENABLED", "true")

	cfg := Default()
	applyEnvOverrides(cfg)

	assert.Equal(t, types.ModeMaster, cfg.Mode)
	assert.Equal(t, "ship-7", cfg.ShipID)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Bus.Brokers)
	assert.Equal(t, "pg.internal", cfg.Postgres.Host)
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, "0.0.0.0:9999", cfg.API.Listen)
	assert.Equal(t, "merge", cfg.Sync.ConflictStrategy)
	assert.True(t, cfg.Media.Enabled)
}

func TestApplyEnvOverrides_IgnoresUnparseableBool(t *testing.T) {
	t.Setenv("OFFLINESYNC_MEDIA_ENABLED", "not-a-bool")
	cfg := Default()
	cfg.Media.Enabled = true
	applyEnvOverrides(cfg)
	assert.True(t, cfg.Media.Enabled, "unparsable override should leave the prior value untouched")
}

func TestLoad_ReadsYAMLFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "mode: master\nshipId: \"\"\nbus:\n  brokers:\n    - localhost:9092\nsync:\n  conflictStrategy: manual\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, types.ModeMaster, cfg.Mode)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Bus.Brokers)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfigErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: master\nbus:\n  brokers: []\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.brokers")
}

func TestContentTypeAllowed(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.ContentTypeAllowed("article"), "empty allow-list permits everything")

	cfg.ContentTypes = []string{"article", "page"}
	assert.True(t, cfg.ContentTypeAllowed("article"))
	assert.False(t, cfg.ContentTypeAllowed("product"))
}
