// Worker test harness: connects to a coordinator, drains the work
// queue one block at a time, and writes each block's chunk into a
// bbolt-backed store to simulate real domain output. -fail-rate lets
// a run reproduce a worker that abandons a block mid-processing.
package main

import (
	"flag"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cpape/butler/internal/chunkstore"
	"github.com/cpape/butler/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:9999", "coordinator address")
	numWorkers := flag.Int("workers", 1, "number of concurrent worker goroutines")
	chunkDB := flag.String("chunk-db", "./chunks.db", "path to the bbolt chunk store")
	failRate := flag.Float64("fail-rate", 0, "probability in [0,1] of abandoning a block instead of confirming it")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request dial timeout (the response wait is not bounded)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("service", "butler-worker").Logger()

	store, err := chunkstore.Open(*chunkDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open chunk store")
	}
	defer store.Close()

	client := &wire.Client{Addr: *addr, Timeout: *timeout}

	var wg sync.WaitGroup
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(id, client, store, *failRate, logger)
		}(i)
	}
	wg.Wait()

	logger.Info().Msg("all workers done")
}

func runWorker(id int, client *wire.Client, store *chunkstore.Store, failRate float64, logger zerolog.Logger) {
	log := logger.With().Int("worker", id).Logger()
	log.Info().Msg("starting")

	for {
		block, err := client.RequestBlock()
		if err != nil {
			log.Error().Err(err).Msg("request-block failed")
			return
		}
		if block == nil {
			break
		}

		if failRate > 0 && rand.Float64() < failRate {
			log.Warn().Interface("block", []int64(block)).Msg("simulating worker failure, abandoning block")
			continue
		}

		if err := store.WriteChunk(block); err != nil {
			log.Error().Err(err).Interface("block", []int64(block)).Msg("failed to write chunk")
			continue
		}

		accepted, err := client.ConfirmBlock(block)
		if err != nil {
			log.Error().Err(err).Interface("block", []int64(block)).Msg("confirm-block failed")
			continue
		}
		if !accepted {
			log.Warn().Interface("block", []int64(block)).Msg("confirm rejected, block already reassigned")
		}
	}

	log.Info().Msg("done, no more work")
}
