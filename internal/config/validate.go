package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *DaemonConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Manager.Host == "" {
		return errors.New("manager.host is required")
	}
	if c.Manager.Port < 1 || c.Manager.Port > 65535 {
		return fmt.Errorf("manager.port must be between 1 and 65535, got %d", c.Manager.Port)
	}
	if c.Manager.Username == "" {
		return errors.New("manager.username is required")
	}
	if c.Manager.Secret == "" {
		return errors.New("manager.secret is required")
	}
	if c.Manager.Reconnect.BaseDelay > c.Manager.Reconnect.MaxDelay {
		return fmt.Errorf("manager.reconnect.base_delay (%v) cannot exceed max_delay (%v)",
			c.Manager.Reconnect.BaseDelay, c.Manager.Reconnect.MaxDelay)
	}

	if c.Bus.Backlog < 1 {
		return errors.New("bus.backlog must be >= 1")
	}
	if c.Bus.RetryBudget < 0 {
		return errors.New("bus.retry_budget must be >= 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Mirror.BatchSize < 1 {
			return errors.New("mirror.batch_size must be >= 1")
		}
	}

	if c.Redis.Enabled() {
		if c.Redis.Stream == "" {
			return errors.New("redis.stream is required when redis.addr is set")
		}
		if c.Redis.MaxLen < 0 {
			return errors.New("redis.max_len must be >= 0")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
