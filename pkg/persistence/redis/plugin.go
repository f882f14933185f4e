package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client *redis.Client
	keys   keyspace
	tz     *time.Location
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, fmt.Errorf("redis persistence config: %w", err)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newPlugin(client, cfg.KeyPrefix, config.Timezone), nil
}

func newPlugin(client *redis.Client, prefix string, tz *time.Location) *Plugin {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "formq"
	}
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{client: client, keys: keyspace{prefix: prefix}, tz: tz}
}

func (p *Plugin) TestStorage() persistence.TestStorage {
	return &testStorage{rdb: p.client, keys: p.keys, tz: p.tz}
}

func (p *Plugin) RunStorage() persistence.RunStorage {
	return &runStorage{rdb: p.client, keys: p.keys, tz: p.tz}
}

func (p *Plugin) DocumentStorage() persistence.DocumentStorage {
	return &documentStorage{rdb: p.client, keys: p.keys, tz: p.tz}
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

type keyspace struct {
	prefix string
}

func (k keyspace) testSeq() string             { return k.prefix + ":test:seq" }
func (k keyspace) test(id int64) string        { return fmt.Sprintf("%s:test:%d", k.prefix, id) }
func (k keyspace) userTests(uid string) string { return k.prefix + ":user:" + uid + ":tests" }
func (k keyspace) runSeq() string              { return k.prefix + ":run:seq" }
func (k keyspace) run(id int64) string         { return fmt.Sprintf("%s:run:%d", k.prefix, id) }
func (k keyspace) jobRuns(jobID string) string { return k.prefix + ":job:" + jobID + ":runs" }
func (k keyspace) docSeq() string              { return k.prefix + ":doc:seq" }
func (k keyspace) doc(id int64) string         { return fmt.Sprintf("%s:doc:%d", k.prefix, id) }
func (k keyspace) docChunks(id int64) string   { return fmt.Sprintf("%s:doc:%d:chunks", k.prefix, id) }
func (k keyspace) testDocs(id int64) string    { return fmt.Sprintf("%s:test:%d:docs", k.prefix, id) }
