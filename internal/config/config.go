package config

import (
	"net"
	"strconv"
	"time"
)

// DaemonConfig is the root configuration for a queue-stats daemon.
type DaemonConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Manager  ManagerConfig  `yaml:"manager"`
	Bus      BusConfig      `yaml:"bus"`
	State    StateConfig    `yaml:"state"`
	Server   ServerConfig   `yaml:"server"`
	Database DBConfig       `yaml:"database"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Redis    RedisConfig    `yaml:"redis"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ManagerConfig holds the PBX manager-interface connection settings.
type ManagerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`

	DialTimeout   time.Duration `yaml:"dial_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	BannerTimeout time.Duration `yaml:"banner_timeout"`
	ActionTimeout time.Duration `yaml:"action_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// HaltOnAuthFailure is a pointer so an explicit false survives the
	// defaulting pass. Unset means true.
	HaltOnAuthFailure *bool `yaml:"halt_on_auth_failure"`

	EventBuffer int `yaml:"event_buffer"`
}

// Address returns the host:port of the manager interface.
func (m ManagerConfig) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// HaltOnAuth reports the effective halt-on-auth-failure policy.
func (m ManagerConfig) HaltOnAuth() bool {
	if m.HaltOnAuthFailure == nil {
		return true
	}
	return *m.HaltOnAuthFailure
}

// ReconnectConfig holds reconnect backoff settings.
type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// BusConfig holds event fan-out settings.
type BusConfig struct {
	Backlog     int `yaml:"backlog"`
	RetryBudget int `yaml:"retry_budget"`
}

// StateConfig holds live-state reconciliation settings.
type StateConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileTimeout  time.Duration `yaml:"reconcile_timeout"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxClients     int      `yaml:"max_clients"`
}

// DBConfig holds the optional queue-member mirror database. An empty
// host disables the mirror entirely.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// MirrorConfig holds queue-member mirror batching settings.
type MirrorConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RedisConfig holds the optional Redis event relay. An empty addr
// disables the relay.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// Enabled reports whether a Redis relay is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}
