package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/metatx-labs/metatx-relay-go/pkg/persistence"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixNonce       = "relay:nonce:"
	keyPrefixAudit       = "relay:audit:"
	keySchemaVersion     = "relay:metadata:schema_version"
	currentSchemaVersion = "v1"
)

// consumeScript increments a nonce key only when its current value (0 for a
// missing key) matches the expected value. Returns the new value, -1 on
// mismatch. Runs atomically server-side.
var consumeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then current = '0' end
if current ~= ARGV[1] then return -1 end
return redis.call('INCR', KEYS[1])
`)

// restoreScript sets a nonce key to ARGV[2] only when its current value
// still matches ARGV[1]. Returns 0 on success, -1 on mismatch.
var restoreScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then current = '0' end
if current ~= ARGV[1] then return -1 end
redis.call('SET', KEYS[1], ARGV[2])
return 0
`)

// RedisStore is a nonce store implementation using Redis. Suitable for
// deployments where several relay frontends share replay-protection state:
// nonce consumption is a server-side compare-and-increment, so two frontends
// racing on the same signer cannot both consume the same nonce.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant
	// setups). If set, this prefix is prepended to all keys, e.g. "myapp:"
	// would result in keys like "myapp:relay:nonce:0x...". If empty, keys
	// use the default "relay:" prefix.
	KeyPrefix string
}

// NewRedisStore creates a new Redis-backed nonce store.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.KeyPrefix != "" {
		logger.Sugar().Infow("Redis nonce store initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	} else {
		logger.Sugar().Infow("Redis nonce store initialized", "address", cfg.Address, "db", cfg.DB)
	}

	return rs, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisStore) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// nonceKey builds the Redis key for a signer's nonce
func (r *RedisStore) nonceKey(signer common.Address) string {
	return r.prefixKey(keyPrefixNonce + signer.Hex())
}

// auditKey builds the Redis key for a signer's audit list
func (r *RedisStore) auditKey(signer common.Address) string {
	return r.prefixKey(keyPrefixAudit + signer.Hex())
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// GetNonce returns the current nonce for a signer, 0 if never seen.
func (r *RedisStore) GetNonce(signer common.Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()

	val, err := r.client.Get(ctx, r.nonceKey(signer)).Result()
	if err == redis.Nil {
		return 0, nil // Never-seen address reads as 0
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}

	nonce, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid nonce value %q: %w", val, err)
	}

	return nonce, nil
}

// ConsumeNonce increments the nonce for a signer if it still equals expected.
// The compare-and-increment runs as a Lua script, atomic across all clients
// sharing the Redis instance.
func (r *RedisStore) ConsumeNonce(signer common.Address, expected uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()

	result, err := consumeScript.Run(ctx, r.client,
		[]string{r.nonceKey(signer)},
		strconv.FormatUint(expected, 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to consume nonce: %w", err)
	}
	if result < 0 {
		return 0, fmt.Errorf("%w: nonce moved past %d", persistence.ErrNonceConflict, expected)
	}

	return uint64(result), nil
}

// RestoreNonce rolls the nonce back from `from` to `to` if it is still `from`.
func (r *RedisStore) RestoreNonce(signer common.Address, from, to uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()

	result, err := restoreScript.Run(ctx, r.client,
		[]string{r.nonceKey(signer)},
		strconv.FormatUint(from, 10),
		strconv.FormatUint(to, 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to restore nonce: %w", err)
	}
	if result < 0 {
		return fmt.Errorf("%w: nonce moved past %d", persistence.ErrNonceConflict, from)
	}

	return nil
}

// SaveAuditRecord appends an audit record to the signer's audit list.
func (r *RedisStore) SaveAuditRecord(record *types.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil AuditRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("nonce store is closed")
	}

	data, err := persistence.MarshalAuditRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal AuditRecord: %w", err)
	}

	ctx := context.Background()

	if err := r.client.RPush(ctx, r.auditKey(record.Signer), data).Err(); err != nil {
		return fmt.Errorf("failed to save AuditRecord: %w", err)
	}

	return nil
}

// ListAuditRecords returns all audit records for a signer in insertion order.
func (r *RedisStore) ListAuditRecords(signer common.Address) ([]*types.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()

	entries, err := r.client.LRange(ctx, r.auditKey(signer), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list AuditRecords: %w", err)
	}

	records := make([]*types.AuditRecord, 0, len(entries))
	for _, entry := range entries {
		record, err := persistence.UnmarshalAuditRecord([]byte(entry))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal AuditRecord, skipping",
				"signer", signer.Hex(), "error", err)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// Close shuts down the store
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis nonce store closed")
	return nil
}

// HealthCheck verifies the store is operational
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("nonce store is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

// Compile-time interface check
var _ persistence.INonceStore = (*RedisStore)(nil)
