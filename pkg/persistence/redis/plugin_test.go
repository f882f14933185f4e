package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/formq/pkg/domain"
	"github.com/osvaldoandrade/formq/pkg/persistence"
	"github.com/osvaldoandrade/formq/pkg/persistence/storagetest"
)

func TestRedisPlugin(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, _ := json.Marshal(Config{Addr: mr.Addr()})

	p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "redis", Config: cfg}, persistence.PluginConfig{Timezone: time.UTC})
	if err != nil {
		t.Fatalf("NewPersistence(redis) error = %v", err)
	}
	defer p.Close()

	storagetest.Run(t, p)
}

func TestRedisPluginKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := newPlugin(client, "tenant-a:", nil)
	defer p.Close()

	test := &domain.Test{UserID: "u1", Type: domain.TestTypeGoogleForm, Title: "T"}
	if err := p.TestStorage().Create(context.Background(), test); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !mr.Exists("tenant-a:test:1") || !mr.Exists("tenant-a:user:u1:tests") {
		t.Errorf("unexpected keys: %v", mr.Keys())
	}
}

func TestRedisPluginBadConfig(t *testing.T) {
	if _, err := NewPlugin(persistence.PluginConfig{Config: []byte("not json")}); err == nil {
		t.Fatal("expected config error")
	}
}
