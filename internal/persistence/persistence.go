// Package persistence serializes the coordinator's final disposition
// on shutdown: three JSON files, one per non-empty set, plus an
// optional additive mirror into Postgres.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/cpape/butler/internal/inventory"
)

const (
	failedFileSuffix     = "failed_blocks.json"
	processedFileSuffix  = "processed_blocks.json"
	inProgressFileSuffix = "inprogress_blocks.json"
)

// Recorder implements dispatcher.StatusPersister: it always writes the
// JSON file contract (when a prefix is configured) and, when a
// Postgres pool is attached, additionally upserts the same sets into a
// block_status audit table in one transaction. The files are the
// authoritative contract; Postgres is strictly additive.
type Recorder struct {
	outPrefix string
	pool      *pgxpool.Pool
	logger    zerolog.Logger
}

// New builds a Recorder. outPrefix may be empty, which disables file
// persistence (a startup warning is expected to have already been
// logged by the caller). pool may be nil, which disables the Postgres
// mirror.
func New(outPrefix string, pool *pgxpool.Pool, logger zerolog.Logger) *Recorder {
	return &Recorder{
		outPrefix: outPrefix,
		pool:      pool,
		logger:    logger.With().Str("component", "persistence").Logger(),
	}
}

// PersistStatus writes the three-file JSON contract and, if enabled,
// the Postgres mirror. File absence indicates the corresponding set
// was empty — a file is written only if its set is non-empty.
func (r *Recorder) PersistStatus(processed, failed, inFlight []inventory.Block, fromInterrupt bool) error {
	if fromInterrupt {
		r.logger.Info().Msg("serializing status after interrupt")
	} else {
		r.logger.Info().Msg("serializing status after regular shutdown")
	}

	if r.outPrefix == "" {
		r.logger.Warn().Msg("no out_prefix configured, status will not be persisted to disk")
	} else {
		if err := r.writeSet(failed, failedFileSuffix); err != nil {
			return err
		}
		if err := r.writeSet(processed, processedFileSuffix); err != nil {
			return err
		}
		if err := r.writeSet(inFlight, inProgressFileSuffix); err != nil {
			return err
		}
	}

	if r.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.mirrorToPostgres(ctx, processed, failed, inFlight); err != nil {
			r.logger.Error().Err(err).Msg("failed to mirror status to postgres")
		}
	}

	return nil
}

func (r *Recorder) writeSet(blocks []inventory.Block, suffix string) error {
	if len(blocks) == 0 {
		return nil
	}
	path := r.outPrefix + suffix
	data, err := json.Marshal(toRaw(blocks))
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", suffix, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.logger.Info().Str("path", path).Int("count", len(blocks)).Msg("serialized block set")
	return nil
}

// mirrorToPostgres upserts each set's rows into block_status, keyed by
// the block's offsets and a status column, adapted from the
// ON CONFLICT DO NOTHING shape of the original event-store writes.
func (r *Recorder) mirrorToPostgres(ctx context.Context, processed, failed, inFlight []inventory.Block) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO block_status (offsets, status, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (offsets) DO UPDATE SET status = EXCLUDED.status, recorded_at = EXCLUDED.recorded_at
	`
	now := time.Now()
	for _, set := range []struct {
		blocks []inventory.Block
		status string
	}{
		{processed, "processed"},
		{failed, "failed"},
		{inFlight, "in_flight"},
	} {
		for _, b := range set.blocks {
			if _, err := tx.Exec(ctx, upsert, toRaw([]inventory.Block{b})[0], set.status, now); err != nil {
				return fmt.Errorf("failed to upsert block status: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// EnsureSchema creates the block_status table if it does not exist.
// Called once at startup when a Postgres DSN is configured.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS block_status (
			offsets BIGINT[] PRIMARY KEY,
			status TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`
	_, err := pool.Exec(ctx, ddl)
	return err
}

func toRaw(blocks []inventory.Block) [][]int64 {
	out := make([][]int64, len(blocks))
	for i, b := range blocks {
		out[i] = []int64(b)
	}
	return out
}

// LoadSet reads back one of the three status files, reconstituting a
// []inventory.Block. Used by the round-trip property test and by
// operator tooling inspecting a shutdown's output.
func LoadSet(path string) ([]inventory.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var raw [][]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	blocks := make([]inventory.Block, len(raw))
	for i, r := range raw {
		blocks[i] = inventory.Block(r)
	}
	return blocks, nil
}
