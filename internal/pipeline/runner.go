// Package pipeline sequences one ingestion invocation: extract the batch the
// file-arrival notification points at, normalize it, run it through the
// deduplication gate, score the survivors against the reference set and hand
// them to the downstream publisher.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cofers/txguard/internal/detect"
	"github.com/cofers/txguard/internal/domain"
	"github.com/cofers/txguard/internal/normalize"
)

// Result summarizes one invocation; beyond these counts there is no partial
// success reporting.
type Result struct {
	Processed int              `json:"processed"`
	Admitted  int              `json:"admitted"`
	Anomalies []detect.Anomaly `json:"anomalies,omitempty"`
	Warnings  []detect.Warning `json:"warnings,omitempty"`
}

// Runner wires the pipeline stages together. All collaborators are injected;
// the runner holds no ambient globals so every stage stays independently
// testable.
type Runner struct {
	extractor  Extractor
	normalizer *normalize.Normalizer
	gate       Admitter
	detector   AnomalyDetector
	publisher  Publisher
	log        zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(extractor Extractor, normalizer *normalize.Normalizer, gate Admitter, detector AnomalyDetector, publisher Publisher, log zerolog.Logger) *Runner {
	return &Runner{
		extractor:  extractor,
		normalizer: normalizer,
		gate:       gate,
		detector:   detector,
		publisher:  publisher,
		log:        log,
	}
}

// Run processes one file-arrival notification. The pipeline is sequential
// within an invocation; all cross-instance coordination happens inside the
// gate's shared store.
func (r *Runner) Run(ctx context.Context, bucket, objectPath string) (*Result, error) {
	log := r.log.With().
		Str("invocation_id", uuid.New().String()).
		Str("bucket", bucket).
		Str("object", objectPath).
		Logger()

	parts, err := ParsePartitions(objectPath)
	if err != nil {
		return nil, err
	}
	fileRef := fmt.Sprintf("gs://%s/%s", bucket, objectPath)

	raws, err := r.extractor.QueryRawTransactions(ctx, parts, fileRef)
	if err != nil {
		return nil, fmt.Errorf("extracting raw transactions: %w", err)
	}
	log.Info().Int("rows", len(raws)).Msg("Extracted raw transactions")
	if len(raws) == 0 {
		return &Result{}, nil
	}

	txs := r.normalizer.Batch(raws)

	txs, err = r.dropKnownChecksums(ctx, parts.CompanyID, txs, log)
	if err != nil {
		return nil, err
	}

	unique, err := r.gate.FilterUnique(ctx, txs)
	if err != nil {
		return nil, fmt.Errorf("filtering unique transactions: %w", err)
	}

	result := &Result{Processed: len(raws), Admitted: len(unique)}
	if len(unique) == 0 {
		log.Info().Msg("No transactions admitted, nothing to publish")
		return result, nil
	}

	reference, err := r.extractor.QueryReferenceTransactions(ctx, parts.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("extracting reference transactions: %w", err)
	}
	result.Anomalies, result.Warnings = r.detector.Detect(unique, reference)

	if err := r.publisher.PublishBatch(ctx, unique); err != nil {
		return nil, fmt.Errorf("publishing admitted transactions: %w", err)
	}

	log.Info().
		Int("processed", result.Processed).
		Int("admitted", result.Admitted).
		Int("anomalies", len(result.Anomalies)).
		Int("warnings", len(result.Warnings)).
		Msg("Invocation finished")
	return result, nil
}

// dropKnownChecksums removes rows whose checksum or etl_checksum already
// exists warehouse-side. This catches re-ingested files whose rows were
// loaded before the idempotency registry existed, and semantic duplicates
// carrying a fresh source checksum.
func (r *Runner) dropKnownChecksums(ctx context.Context, companyID string, txs []domain.Transaction, log zerolog.Logger) ([]domain.Transaction, error) {
	known, err := r.extractor.QueryChecksums(ctx, companyID, "checksum")
	if err != nil {
		return nil, fmt.Errorf("fetching known checksums: %w", err)
	}
	txs = excludeBy(txs, known, func(tx domain.Transaction) string { return tx.Checksum })
	log.Info().Int("remaining", len(txs)).Msg("Filtered against warehouse checksums")
	if len(txs) == 0 {
		return txs, nil
	}

	knownETL, err := r.extractor.QueryChecksums(ctx, companyID, "etl_checksum")
	if err != nil {
		return nil, fmt.Errorf("fetching known etl_checksums: %w", err)
	}
	txs = excludeBy(txs, knownETL, func(tx domain.Transaction) string { return tx.ETLChecksum })
	log.Info().Int("remaining", len(txs)).Msg("Filtered against warehouse etl_checksums")
	return txs, nil
}

func excludeBy(txs []domain.Transaction, exclude []string, key func(domain.Transaction) string) []domain.Transaction {
	excluded := make(map[string]struct{}, len(exclude))
	for _, sum := range exclude {
		excluded[sum] = struct{}{}
	}
	kept := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if _, drop := excluded[key(tx)]; !drop {
			kept = append(kept, tx)
		}
	}
	return kept
}
