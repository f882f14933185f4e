package memory

import (
	"testing"
	"time"

	"github.com/osvaldoandrade/formq/pkg/persistence"
	"github.com/osvaldoandrade/formq/pkg/persistence/storagetest"
)

func TestMemoryPlugin(t *testing.T) {
	plugin, err := NewPlugin(persistence.PluginConfig{Config: []byte("{}"), Timezone: time.UTC})
	if err != nil {
		t.Fatalf("Failed to create plugin: %v", err)
	}
	defer plugin.Close()

	storagetest.Run(t, plugin)
}

func TestMemoryRegistered(t *testing.T) {
	p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "memory"}, persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("NewPersistence(memory) error = %v", err)
	}
	_ = p.Close()
}
