package cache

import "time"

type RedisOption func(*RedisConfig)

// RedisConfig collects the connection settings for the redis backend.
// Every key is namespaced under Prefix.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
}

func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) { c.Host = host }
}

func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) { c.Port = port }
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process backend: entry count cap and how often
// expired entries are swept.
type MemoryConfig struct {
	MaxEntries    int
	SweepInterval time.Duration
}

func WithMemoryMaxEntries(n int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxEntries = n }
}

func WithMemorySweep(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.SweepInterval = interval }
}

type LayeredOption func(*LayeredConfig)

// LayeredConfig sizes the L1 memory layer in front of redis.
type LayeredConfig struct {
	MemoryMaxEntries int
}

func WithLayeredMemorySize(n int) LayeredOption {
	return func(c *LayeredConfig) { c.MemoryMaxEntries = n }
}
