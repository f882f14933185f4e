package sqlite

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/osvaldoandrade/formq/pkg/persistence"
	"github.com/osvaldoandrade/formq/pkg/persistence/storagetest"
)

func TestSQLitePlugin(t *testing.T) {
	cfg, _ := json.Marshal(Config{Path: filepath.Join(t.TempDir(), "formq.db")})
	p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "sqlite", Config: cfg}, persistence.PluginConfig{Timezone: time.UTC})
	if err != nil {
		t.Fatalf("NewPersistence(sqlite) error = %v", err)
	}
	defer p.Close()

	storagetest.Run(t, p)
}

func TestSQLitePluginReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formq.db")
	cfg, _ := json.Marshal(Config{Path: path})

	first, err := NewPlugin(persistence.PluginConfig{Config: cfg})
	if err != nil {
		t.Fatalf("NewPlugin() error = %v", err)
	}
	_ = first.Close()

	second, err := NewPlugin(persistence.PluginConfig{Config: cfg})
	if err != nil {
		t.Fatalf("reopen with existing schema: %v", err)
	}
	_ = second.Close()
}
