package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/config"
)

func TestOpenBackend_memory(t *testing.T) {
	b, closer, err := OpenBackend(context.Background(), config.StateStoreConfig{Driver: config.DriverMemory}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenBackend error: %v", err)
	}
	if closer != nil {
		t.Error("memory backend should not need a closer")
	}
	if b.Driver() != config.DriverMemory {
		t.Errorf("driver = %q", b.Driver())
	}
}

func TestOpenBackend_redis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("TEST_COOL_REDIS_ADDR", mr.Addr())

	b, closer, err := OpenBackend(context.Background(), config.StateStoreConfig{
		Driver:    config.DriverRedis,
		AddrEnv:   "TEST_COOL_REDIS_ADDR",
		KeyPrefix: "test",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenBackend error: %v", err)
	}
	defer closer()

	if b.Driver() != config.DriverRedis {
		t.Errorf("driver = %q", b.Driver())
	}
	if err := b.Store(context.Background(), "s", map[string][]byte{"k": []byte("1")}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if !mr.Exists("test:state:s") {
		t.Error("expected key test:state:s")
	}
}

func TestOpenBackend_errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StateStoreConfig
	}{
		{"redis without address", config.StateStoreConfig{Driver: config.DriverRedis, AddrEnv: "TEST_COOL_UNSET_ADDR"}},
		{"postgres without dsn", config.StateStoreConfig{Driver: config.DriverPostgres, DSNEnv: "TEST_COOL_UNSET_DSN"}},
		{"unknown driver", config.StateStoreConfig{Driver: "etcd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := OpenBackend(context.Background(), tt.cfg, zap.NewNop()); err == nil {
				t.Error("OpenBackend should fail")
			}
		})
	}
}
