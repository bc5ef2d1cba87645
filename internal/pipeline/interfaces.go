package pipeline

import (
	"context"

	"github.com/cofers/txguard/internal/detect"
	"github.com/cofers/txguard/internal/domain"
)

// Extractor pulls raw transaction lines and reference data out of the
// analytical warehouse. The pipeline treats extraction as opaque and must
// tolerate an empty result.
type Extractor interface {
	QueryRawTransactions(ctx context.Context, parts domain.Partitions, fileRef string) ([]domain.RawRecord, error)
	QueryReferenceTransactions(ctx context.Context, companyID string) ([]domain.Transaction, error)
	QueryChecksums(ctx context.Context, companyID, checksumField string) ([]string, error)
}

// Admitter filters a batch down to the transactions admitted by the
// deduplication gate, preserving input order.
type Admitter interface {
	FilterUnique(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error)
}

// AnomalyDetector scores the surviving batch against the reference set.
type AnomalyDetector interface {
	Detect(batch, reference []domain.Transaction) ([]detect.Anomaly, []detect.Warning)
}

// Publisher forwards admitted transactions downstream. Only records that
// survived deduplication reach it.
type Publisher interface {
	PublishBatch(ctx context.Context, txs []domain.Transaction) error
}
