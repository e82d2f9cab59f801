package config

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *RelayServerConfig {
	return &RelayServerConfig{
		Port:         8080,
		RateLimit:    50,
		OwnerAddress: "0x0000000000000000000000000000000000000aaa",
		Persistence:  PersistenceBadger,
		DataDir:      "/tmp/relay-data",
	}
}

func TestRelayServerConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestRelayServerConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *RelayServerConfig)
		wantErr string
	}{
		{
			name:    "port too low",
			mutate:  func(c *RelayServerConfig) { c.Port = 0 },
			wantErr: "port must be between 1-65535",
		},
		{
			name:    "port too high",
			mutate:  func(c *RelayServerConfig) { c.Port = 70000 },
			wantErr: "port must be between 1-65535",
		},
		{
			name:    "missing owner",
			mutate:  func(c *RelayServerConfig) { c.OwnerAddress = "" },
			wantErr: "owner address is required",
		},
		{
			name:    "bad owner address",
			mutate:  func(c *RelayServerConfig) { c.OwnerAddress = "not-an-address" },
			wantErr: "invalid hex address",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *RelayServerConfig) { c.RateLimit = 0 },
			wantErr: "rate limit must be positive",
		},
		{
			name: "badger without data dir",
			mutate: func(c *RelayServerConfig) {
				c.Persistence = PersistenceBadger
				c.DataDir = ""
			},
			wantErr: "data dir is required",
		},
		{
			name: "redis without address",
			mutate: func(c *RelayServerConfig) {
				c.Persistence = PersistenceRedis
				c.RedisAddress = ""
			},
			wantErr: "redis address is required",
		},
		{
			name: "redis db out of range",
			mutate: func(c *RelayServerConfig) {
				c.Persistence = PersistenceRedis
				c.RedisAddress = "localhost:6379"
				c.RedisDB = 16
			},
			wantErr: "redis db must be between 0-15",
		},
		{
			name:    "unknown persistence type",
			mutate:  func(c *RelayServerConfig) { c.Persistence = "etcd" },
			wantErr: "supported values",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRelayServerConfig_Validate_MemoryNeedsNothing(t *testing.T) {
	cfg := validConfig()
	cfg.Persistence = PersistenceMemory
	cfg.DataDir = ""
	require.NoError(t, cfg.Validate())
}

func TestRelayServerConfig_Validate_AggregatesErrors(t *testing.T) {
	cfg := &RelayServerConfig{Persistence: PersistenceMemory}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "ownerAddress")
	assert.Contains(t, err.Error(), "rateLimit")
}

func TestRelayServerConfig_Owner(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, common.HexToAddress(cfg.OwnerAddress), cfg.Owner())
}

func TestSupportedPersistenceTypes(t *testing.T) {
	types := SupportedPersistenceTypes()
	assert.Len(t, types, 3)
	assert.Contains(t, SupportedPersistenceTypesString(), "badger")
}
