package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for relay server configuration
const (
	EnvRelayPort         = "RELAY_PORT"
	EnvRelayOwnerAddress = "RELAY_OWNER_ADDRESS"
	EnvRelayPersistence  = "RELAY_PERSISTENCE"
	EnvRelayDataDir      = "RELAY_DATA_DIR"
	EnvRelayRedisAddress = "RELAY_REDIS_ADDRESS"
	EnvRelayRedisDB      = "RELAY_REDIS_DB"
	EnvRelayRateLimit    = "RELAY_RATE_LIMIT"
	EnvRelayVerbose      = "RELAY_VERBOSE"
)

// PersistenceType selects the nonce store backend
type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceMemory PersistenceType = "memory"
	PersistenceBadger PersistenceType = "badger"
	PersistenceRedis  PersistenceType = "redis"
)

// SupportedPersistenceTypes returns all supported backends
func SupportedPersistenceTypes() []PersistenceType {
	return []PersistenceType{PersistenceMemory, PersistenceBadger, PersistenceRedis}
}

// SupportedPersistenceTypesString returns backends as a string for CLI help
func SupportedPersistenceTypesString() string {
	return fmt.Sprintf("%s (testing only), %s, %s", PersistenceMemory, PersistenceBadger, PersistenceRedis)
}

// RelayServerConfig represents the complete configuration for a relay server
type RelayServerConfig struct {
	// Server settings
	Port      int     `json:"port"`
	RateLimit float64 `json:"rate_limit"` // accepted /authorize submissions per second

	// Treasury ownership
	OwnerAddress string `json:"owner_address"` // Ethereum address allowed to move treasury funds

	// Persistence backend
	Persistence  PersistenceType `json:"persistence"`
	DataDir      string          `json:"data_dir,omitempty"`      // badger only
	RedisAddress string          `json:"redis_address,omitempty"` // redis only
	RedisDB      int             `json:"redis_db,omitempty"`

	// Operational settings
	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the relay server configuration
func (c *RelayServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}

	if c.OwnerAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ownerAddress"), "owner address is required"))
	} else if !common.IsHexAddress(c.OwnerAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("ownerAddress"), c.OwnerAddress, "invalid hex address"))
	}

	if c.RateLimit <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "rate limit must be positive"))
	}

	switch c.Persistence {
	case PersistenceMemory:
		// Nothing to validate
	case PersistenceBadger:
		if c.DataDir == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataDir"), "data dir is required for badger persistence"))
		}
	case PersistenceRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redis address is required for redis persistence"))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, "redis db must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistence"), c.Persistence, []string{
			string(PersistenceMemory), string(PersistenceBadger), string(PersistenceRedis),
		}))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// Owner returns the parsed owner address. Call Validate first.
func (c *RelayServerConfig) Owner() common.Address {
	return common.HexToAddress(c.OwnerAddress)
}
