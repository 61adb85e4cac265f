package sqlite

import (
	"fmt"
)

// Config holds SQLite storage configuration
type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}
