package postgres

import (
	"fmt"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}

	if c.Port <= 0 {
		c.Port = 5432
	}

	if c.Database == "" {
		return fmt.Errorf("PostgreSQL database name is required")
	}

	if c.Username == "" {
		return fmt.Errorf("PostgreSQL username is required")
	}

	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}

	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}
