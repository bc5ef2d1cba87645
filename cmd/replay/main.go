// Command replay re-ingests one record-batch file, reading it straight from
// the bucket instead of waiting for a notification. The deduplication gate
// still applies, so replaying an already processed file forwards nothing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cofers/txguard/internal/config"
	"github.com/cofers/txguard/internal/dedupe"
	"github.com/cofers/txguard/internal/detect"
	"github.com/cofers/txguard/internal/domain"
	"github.com/cofers/txguard/internal/gcs"
	infraBQ "github.com/cofers/txguard/internal/infra/bigquery"
	infraPS "github.com/cofers/txguard/internal/infra/pubsub"
	"github.com/cofers/txguard/internal/logger"
	"github.com/cofers/txguard/internal/normalize"
	"github.com/cofers/txguard/internal/pipeline"
)

// bucketExtractor satisfies pipeline.Extractor by reading the raw batch from
// object storage while delegating reference lookups to the warehouse.
type bucketExtractor struct {
	*infraBQ.Warehouse
	reader *gcs.BatchReader
	bucket string
	object string
}

func (e *bucketExtractor) QueryRawTransactions(ctx context.Context, parts domain.Partitions, fileRef string) ([]domain.RawRecord, error) {
	_ = fileRef // the object path is authoritative here
	return e.reader.ReadBatch(ctx, e.bucket, e.object)
}

func main() {
	_ = godotenv.Load()

	bucket := flag.String("bucket", "", "bucket holding the batch file")
	object := flag.String("object", "", "object path, e.g. year=2024/month=11/day=20/company_id=c-1/batch.avro")
	flag.Parse()

	if *bucket == "" || *object == "" {
		fmt.Fprintln(os.Stderr, "Error: --bucket and --object are required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	redisClient, err := dedupe.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		cfg.StorePingAttempts, cfg.StorePingBackoff, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Idempotency store unavailable")
	}
	defer redisClient.Close()
	gate := dedupe.NewGate(dedupe.NewRedisStore(redisClient), cfg.GateOptions(), log)

	warehouse, err := infraBQ.NewWarehouse(ctx, cfg.GCPProject, cfg.BronzeTable, cfg.SilverTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create warehouse client")
	}
	defer warehouse.Close()

	reader, err := gcs.NewBatchReader(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create batch reader")
	}
	defer reader.Close()

	publisher, err := infraPS.NewPublisher(ctx, cfg.GCPProject, cfg.TopicIn, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer publisher.Close()

	detector, err := detect.New(cfg.DetectorConfig(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid detector configuration")
	}

	extractor := &bucketExtractor{Warehouse: warehouse, reader: reader, bucket: *bucket, object: *object}
	runner := pipeline.NewRunner(extractor, normalize.New(log), gate, detector, publisher, log)

	result, err := runner.Run(ctx, *bucket, *object)
	if err != nil {
		log.Fatal().Err(err).Msg("Replay failed")
	}

	fmt.Printf("Processed %d transactions, admitted %d, %d anomalies, %d warnings.\n",
		result.Processed, result.Admitted, len(result.Anomalies), len(result.Warnings))
}
