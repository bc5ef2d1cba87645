// Package detect flags transaction pairs that are suspiciously similar to a
// reference set yet numerically inconsistent with it: duplicate postings with
// altered amounts, truncated imports, re-ingested files under another name.
// Scoring is a deterministic, hand-weighted function, not a trained model.
package detect

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/cofers/txguard/internal/domain"
	"github.com/cofers/txguard/internal/similarity"
)

// Weights assigns a weight to each recognized field. The set must sum to 1.0;
// a zero weight excludes a field from the combined score.
type Weights struct {
	Concept           float64 // text
	Amount            float64 // numeric
	ReportedRemaining float64 // numeric
	AccountNumber     float64 // exact
	Bank              float64 // exact
	TransactionDate   float64 // exact
}

func (w Weights) sum() float64 {
	return w.Concept + w.Amount + w.ReportedRemaining + w.AccountNumber + w.Bank + w.TransactionDate
}

// Config holds the externally tuned detector parameters. Weights and
// thresholds vary by deployment and tuning cycle; nothing here is a constant.
type Config struct {
	Weights          Weights
	AnomalyThreshold float64
	WarningThreshold float64
	// AmountTolerance is the absolute amount difference above which two
	// otherwise similar transactions get a concrete anomaly reason.
	AmountTolerance float64
}

const weightEpsilon = 1e-6

// FieldScores are the per-field similarity components of one pair.
type FieldScores struct {
	Concept           float64 `json:"concept"`
	Amount            float64 `json:"amount"`
	ReportedRemaining float64 `json:"reported_remaining"`
	AccountNumber     float64 `json:"account_number"`
	Bank              float64 `json:"bank"`
	TransactionDate   float64 `json:"transaction_date"`
}

// Anomaly is a pair that cleared the anomaly threshold with at least one
// concrete discrepancy.
type Anomaly struct {
	Transaction domain.Transaction `json:"transaction"`
	Reference   domain.Transaction `json:"reference"`
	Score       float64            `json:"similarity_score"`
	Fields      FieldScores        `json:"field_scores"`
	Reasons     []string           `json:"reasons"`
}

// Warning is a pair with moderate similarity and no concrete discrepancy.
type Warning struct {
	Transaction domain.Transaction `json:"transaction"`
	Reference   domain.Transaction `json:"reference"`
	Score       float64            `json:"similarity_score"`
}

// Detector scores batch transactions against a reference set.
type Detector struct {
	cfg Config
	log zerolog.Logger
}

// New validates the configuration and builds a Detector. Weights that do not
// sum to 1.0 are a configuration error, not a per-pair error.
func New(cfg Config, log zerolog.Logger) (*Detector, error) {
	if s := cfg.Weights.sum(); math.Abs(s-1.0) > weightEpsilon {
		return nil, fmt.Errorf("detector weights must sum to 1.0, got %v", s)
	}
	if cfg.WarningThreshold > cfg.AnomalyThreshold {
		return nil, fmt.Errorf("warning threshold %v exceeds anomaly threshold %v",
			cfg.WarningThreshold, cfg.AnomalyThreshold)
	}
	return &Detector{cfg: cfg, log: log}, nil
}

// Detect compares every batch transaction against every reference transaction
// (full cross product; the reference set is small and bounded per invocation)
// and classifies each pair. Pairs below the warning threshold are not
// reported. A pair that clears the anomaly threshold without a concrete
// reason is a near-duplicate with an explanation, not a defect: it is
// reported as a warning at most.
func (d *Detector) Detect(batch, reference []domain.Transaction) ([]Anomaly, []Warning) {
	d.log.Info().
		Int("batch", len(batch)).
		Int("reference", len(reference)).
		Msg("Scoring transaction pairs")

	var anomalies []Anomaly
	var warnings []Warning
	for _, tx := range batch {
		for _, ref := range reference {
			score, fields := d.scorePair(tx, ref)
			if score < d.cfg.WarningThreshold {
				continue
			}

			reasons := d.concreteReasons(tx, ref)
			if score >= d.cfg.AnomalyThreshold && len(reasons) > 0 {
				anomalies = append(anomalies, Anomaly{
					Transaction: tx,
					Reference:   ref,
					Score:       score,
					Fields:      fields,
					Reasons:     reasons,
				})
				d.log.Info().
					Str("checksum", tx.Checksum).
					Str("reference_checksum", ref.Checksum).
					Float64("score", score).
					Strs("reasons", reasons).
					Msg("Anomaly detected")
				continue
			}

			warnings = append(warnings, Warning{Transaction: tx, Reference: ref, Score: score})
			d.log.Info().
				Str("checksum", tx.Checksum).
				Str("reference_checksum", ref.Checksum).
				Float64("score", score).
				Msg("Moderate similarity, no clear anomaly reason")
		}
	}

	d.log.Info().
		Int("anomalies", len(anomalies)).
		Int("warnings", len(warnings)).
		Msg("Anomaly detection finished")
	return anomalies, warnings
}

// scorePair combines weighted per-field similarities into a total in [0,1].
func (d *Detector) scorePair(tx, ref domain.Transaction) (float64, FieldScores) {
	fields := FieldScores{
		Concept:           similarity.TFIDFCosine(tx.Concept, ref.Concept),
		Amount:            similarity.NumericScore(tx.Amount.InexactFloat64(), ref.Amount.InexactFloat64()),
		ReportedRemaining: remainingScore(tx, ref),
		AccountNumber:     similarity.ExactScore(tx.AccountNumber, ref.AccountNumber),
		Bank:              similarity.ExactScore(tx.Bank, ref.Bank),
		TransactionDate:   similarity.ExactScore(tx.TransactionDate, ref.TransactionDate),
	}

	w := d.cfg.Weights
	total := w.Concept*fields.Concept +
		w.Amount*fields.Amount +
		w.ReportedRemaining*fields.ReportedRemaining +
		w.AccountNumber*fields.AccountNumber +
		w.Bank*fields.Bank +
		w.TransactionDate*fields.TransactionDate
	return total, fields
}

// remainingScore handles the optionality of reported_remaining: both absent
// is a vacuous match, one absent is a mismatch.
func remainingScore(tx, ref domain.Transaction) float64 {
	switch {
	case tx.HasRemaining && ref.HasRemaining:
		return similarity.NumericScore(tx.ReportedRemaining.InexactFloat64(), ref.ReportedRemaining.InexactFloat64())
	case !tx.HasRemaining && !ref.HasRemaining:
		return 1.0
	default:
		return 0.0
	}
}

// concreteReasons lists the numeric discrepancies that qualify a
// high-similarity pair as an anomaly, in a fixed order.
func (d *Detector) concreteReasons(tx, ref domain.Transaction) []string {
	var reasons []string

	diff := tx.Amount.Sub(ref.Amount).Abs()
	if diff.InexactFloat64() > d.cfg.AmountTolerance {
		reasons = append(reasons, fmt.Sprintf("amount differs significantly: %s vs %s",
			tx.Amount.String(), ref.Amount.String()))
	}

	if tx.HasRemaining && ref.HasRemaining && !tx.ReportedRemaining.Equal(ref.ReportedRemaining) {
		reasons = append(reasons, fmt.Sprintf("reported remaining differs: %s vs %s",
			tx.ReportedRemaining.String(), ref.ReportedRemaining.String()))
	}

	return reasons
}
