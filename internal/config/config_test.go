package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-daemon
manager:
  host: pbx.internal
  port: 5038
  username: stats
  secret: hunter2
  action_timeout: 15s
  reconnect:
    base_delay: 2s
    max_delay: 30s
server:
  host: 127.0.0.1
  port: 9000
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-daemon" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-daemon")
	}
	if cfg.Manager.Host != "pbx.internal" {
		t.Errorf("Manager.Host = %q, want %q", cfg.Manager.Host, "pbx.internal")
	}
	if cfg.Manager.ActionTimeout != 15*time.Second {
		t.Errorf("Manager.ActionTimeout = %v, want 15s", cfg.Manager.ActionTimeout)
	}
	if cfg.Manager.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("Manager.Reconnect.BaseDelay = %v, want 2s", cfg.Manager.Reconnect.BaseDelay)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if got := cfg.Manager.Address(); got != "pbx.internal:5038" {
		t.Errorf("Manager.Address() = %q, want %q", got, "pbx.internal:5038")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_AMI_SECRET", "secret123")

	yaml := `
instance:
  id: test-daemon
manager:
  host: pbx.internal
  username: stats
  secret: ${TEST_AMI_SECRET}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Manager.Secret != "secret123" {
		t.Errorf("Manager.Secret = %q, want %q", cfg.Manager.Secret, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-daemon
manager:
  host: pbx.internal
  username: stats
  secret: hunter2
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Manager.Port != DefaultManagerPort {
		t.Errorf("Manager.Port = %d, want default %d", cfg.Manager.Port, DefaultManagerPort)
	}
	if cfg.Manager.ActionTimeout != DefaultActionTimeout {
		t.Errorf("Manager.ActionTimeout = %v, want default %v", cfg.Manager.ActionTimeout, DefaultActionTimeout)
	}
	if cfg.Manager.Reconnect.MaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Manager.Reconnect.MaxDelay = %v, want default %v", cfg.Manager.Reconnect.MaxDelay, DefaultReconnectMaxDelay)
	}
	if !cfg.Manager.HaltOnAuth() {
		t.Error("Manager.HaltOnAuth() = false, want default true")
	}
	if cfg.Bus.Backlog != DefaultBusBacklog {
		t.Errorf("Bus.Backlog = %d, want default %d", cfg.Bus.Backlog, DefaultBusBacklog)
	}
	if cfg.State.ReconcileInterval != DefaultReconcileInterval {
		t.Errorf("State.ReconcileInterval = %v, want default %v", cfg.State.ReconcileInterval, DefaultReconcileInterval)
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultServerPort)
	}
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true with no database section")
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis.Enabled() = true with no redis section")
	}
}

func TestLoadExplicitHaltFalseSurvivesDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-daemon
manager:
  host: pbx.internal
  username: stats
  secret: hunter2
  halt_on_auth_failure: false
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Manager.HaltOnAuth() {
		t.Error("Manager.HaltOnAuth() = true, want explicit false to survive")
	}
}

func TestLoadDatabaseDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-daemon
manager:
  host: pbx.internal
  username: stats
  secret: hunter2
database:
  host: db.internal
  name: queuestats
  user: mirror
  password: pw
redis:
  addr: redis.internal:6379
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if !cfg.Database.Enabled() {
		t.Fatal("Database.Enabled() = false")
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.SSLMode != DefaultDBSSLMode {
		t.Errorf("Database.SSLMode = %q, want default %q", cfg.Database.SSLMode, DefaultDBSSLMode)
	}
	if cfg.Mirror.BatchSize != DefaultMirrorBatchSize {
		t.Errorf("Mirror.BatchSize = %d, want default %d", cfg.Mirror.BatchSize, DefaultMirrorBatchSize)
	}
	if cfg.Redis.Stream != DefaultRedisStream {
		t.Errorf("Redis.Stream = %q, want default %q", cfg.Redis.Stream, DefaultRedisStream)
	}
	if cfg.Redis.MaxLen != DefaultRedisMaxLen {
		t.Errorf("Redis.MaxLen = %d, want default %d", cfg.Redis.MaxLen, DefaultRedisMaxLen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() succeeded on a missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() DaemonConfig {
		return DaemonConfig{
			Instance: InstanceConfig{ID: "test"},
			Manager: ManagerConfig{
				Host:     "pbx.internal",
				Port:     5038,
				Username: "stats",
				Secret:   "hunter2",
				Reconnect: ReconnectConfig{
					BaseDelay: time.Second,
					MaxDelay:  time.Minute,
				},
			},
			Bus:    BusConfig{Backlog: 256, RetryBudget: 3},
			Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*DaemonConfig)
		wantErr string
	}{
		{
			name:    "valid without database",
			mutate:  func(c *DaemonConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *DaemonConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing manager host",
			mutate:  func(c *DaemonConfig) { c.Manager.Host = "" },
			wantErr: "manager.host is required",
		},
		{
			name:    "missing manager username",
			mutate:  func(c *DaemonConfig) { c.Manager.Username = "" },
			wantErr: "manager.username is required",
		},
		{
			name:    "missing manager secret",
			mutate:  func(c *DaemonConfig) { c.Manager.Secret = "" },
			wantErr: "manager.secret is required",
		},
		{
			name:    "manager port out of range",
			mutate:  func(c *DaemonConfig) { c.Manager.Port = 70000 },
			wantErr: "manager.port must be between 1 and 65535, got 70000",
		},
		{
			name: "reconnect base exceeds max",
			mutate: func(c *DaemonConfig) {
				c.Manager.Reconnect.BaseDelay = 2 * time.Minute
			},
			wantErr: "manager.reconnect.base_delay (2m0s) cannot exceed max_delay (1m0s)",
		},
		{
			name:    "bus backlog too small",
			mutate:  func(c *DaemonConfig) { c.Bus.Backlog = 0 },
			wantErr: "bus.backlog must be >= 1",
		},
		{
			name:    "server port out of range",
			mutate:  func(c *DaemonConfig) { c.Server.Port = 0 },
			wantErr: "server.port must be between 1 and 65535, got 0",
		},
		{
			name: "database missing password",
			mutate: func(c *DaemonConfig) {
				c.Database = DBConfig{Host: "db.internal", Name: "qs", User: "mirror", MaxConns: 10}
				c.Mirror = MirrorConfig{BatchSize: 100}
			},
			wantErr: "database.password is required",
		},
		{
			name: "database min_conns exceeds max_conns",
			mutate: func(c *DaemonConfig) {
				c.Database = DBConfig{Host: "db.internal", Name: "qs", User: "mirror", Password: "pw", MaxConns: 5, MinConns: 10}
				c.Mirror = MirrorConfig{BatchSize: 100}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "redis missing stream",
			mutate: func(c *DaemonConfig) {
				c.Redis = RedisConfig{Addr: "redis.internal:6379"}
			},
			wantErr: "redis.stream is required when redis.addr is set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
