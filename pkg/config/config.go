// Package config defines the coordinator's configuration shape and the
// block-list file format it consumes at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all tunables for the block coordinator.
type Config struct {
	BlockFile     string        `json:"blockFile"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	TimeLimit     time.Duration `json:"timeLimit"`
	CheckInterval time.Duration `json:"checkInterval"`
	NumRetries    int           `json:"numRetries"`
	BlockArity    int           `json:"blockArity"`
	OutPrefix     string        `json:"outPrefix"`
	MetricsAddr   string        `json:"metricsAddr"`
	PostgresDSN   string        `json:"postgresDsn"`
	NATSURL       string        `json:"natsUrl"`
	NATSSubject   string        `json:"natsSubjectPrefix"`
}

// Validate enforces the coordinator's startup invariants. A violation
// means the caller should fail fast rather than run in a broken state.
func (c *Config) Validate() error {
	if c.BlockFile == "" {
		return fmt.Errorf("config: block_file is required")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("config: check_interval must be > 0, got %s", c.CheckInterval)
	}
	if c.TimeLimit <= c.CheckInterval {
		return fmt.Errorf("config: time_limit (%s) must be greater than check_interval (%s)", c.TimeLimit, c.CheckInterval)
	}
	if c.NumRetries < 0 {
		return fmt.Errorf("config: num_retries must be >= 0, got %d", c.NumRetries)
	}
	if c.BlockArity <= 0 {
		return fmt.Errorf("config: block_arity must be > 0, got %d", c.BlockArity)
	}
	return nil
}

// LoadBlockList reads the input block-list file: a JSON array of
// integer arrays, each of length matching arity and with no negative
// offset. Duplicates are not checked.
func LoadBlockList(path string, arity int) ([][]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block file: %w", err)
	}

	var blocks [][]int64
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("failed to parse block file: %w", err)
	}

	for i, b := range blocks {
		if len(b) != arity {
			return nil, fmt.Errorf("block %d has arity %d, expected %d", i, len(b), arity)
		}
		for _, v := range b {
			if v < 0 {
				return nil, fmt.Errorf("block %d has a negative offset: %v", i, b)
			}
		}
	}

	return blocks, nil
}
