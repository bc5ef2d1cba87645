// Package normalize turns raw extractor records into normalized transactions:
// canonical dates, a derived content checksum, and collapsed metadata.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cofers/txguard/internal/domain"
)

const canonicalDateLayout = "2006-01-02"

// Normalizer derives normalized transactions from raw records. It holds no
// shared state; the logger is the only dependency.
type Normalizer struct {
	log zerolog.Logger
}

// New creates a Normalizer.
func New(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Record normalizes a single raw record. It never fails: a date that cannot
// be classified passes through unchanged (logged), and malformed metadata
// degrades to an empty map. Dropping a transaction over a format quirk is
// worse than forwarding it as-is.
func (n *Normalizer) Record(raw domain.RawRecord) domain.Transaction {
	tx := domain.Transaction{
		Checksum:          raw.Checksum,
		ETLChecksum:       ETLChecksum(raw.TransactionDate, raw.Concept, raw.Amount.String(), raw.ReportedRemaining.String()),
		TransactionDate:   n.Date(raw.TransactionDate),
		Concept:           raw.Concept,
		Amount:            raw.Amount,
		ReportedRemaining: raw.ReportedRemaining,
		HasRemaining:      raw.HasRemaining,
		AccountNumber:     raw.AccountNumber,
		AccountAlias:      raw.AccountAlias,
		Bank:              raw.Bank,
		Currency:          raw.Currency,
		ReportType:        raw.ReportType,
		ExtractionDate:    raw.ExtractionDate,
		UserID:            raw.UserID,
		CompanyID:         raw.CompanyID,
		CreatedAt:         n.createdAt(raw.CreatedAt),
		Metadata:          CollapseMetadata(raw.Metadata),
	}
	return tx
}

// Batch normalizes a sequence of raw records, preserving order.
func (n *Normalizer) Batch(raws []domain.RawRecord) []domain.Transaction {
	txs := make([]domain.Transaction, 0, len(raws))
	for _, raw := range raws {
		txs = append(txs, n.Record(raw))
	}
	return txs
}

// Date canonicalizes a transaction date to YYYY-MM-DD. Accepted inputs are
// YYYY-MM-DD, DD-MM-YYYY, YYYY/MM/DD and DD/MM/YYYY. For slash-delimited
// dates the end with four digits is the year; if neither end has four digits
// the format is rejected. On failure the input is returned unchanged.
func (n *Normalizer) Date(dateStr string) string {
	if dateStr == "" {
		return dateStr
	}

	normalized, err := parseDate(dateStr)
	if err != nil {
		n.log.Info().Str("date", dateStr).Err(err).Msg("Could not normalize transaction date, keeping original")
		return dateStr
	}
	return normalized
}

func parseDate(dateStr string) (string, error) {
	switch {
	case strings.Count(dateStr, "-") == 2:
		if t, err := time.Parse("2006-01-02", dateStr); err == nil {
			return t.Format(canonicalDateLayout), nil
		}
		t, err := time.Parse("02-01-2006", dateStr)
		if err != nil {
			return "", fmt.Errorf("unrecognized dash-delimited date %q", dateStr)
		}
		return t.Format(canonicalDateLayout), nil

	case strings.Contains(dateStr, "/"):
		parts := strings.Split(dateStr, "/")
		if len(parts) != 3 {
			return "", fmt.Errorf("expected 3 slash-delimited parts, got %d", len(parts))
		}
		var layout string
		switch {
		case len(parts[0]) == 4:
			layout = "2006/01/02"
		case len(parts[2]) == 4:
			layout = "02/01/2006"
		default:
			return "", fmt.Errorf("cannot locate year in %q", dateStr)
		}
		t, err := time.Parse(layout, dateStr)
		if err != nil {
			return "", err
		}
		return t.Format(canonicalDateLayout), nil
	}
	return "", fmt.Errorf("unrecognized date format %q", dateStr)
}

// createdAt canonicalizes the upstream report date to YYYY-MM-DDT00:00:00.
// An unparseable value is dropped (empty string) rather than failing the record.
func (n *Normalizer) createdAt(dateStr string) string {
	if dateStr == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t.Format("2006-01-02T00:00:00")
		}
	}
	n.log.Info().Str("created_at", dateStr).Msg("Could not parse created_at, dropping value")
	return ""
}

// ETLChecksum derives the content hash used to catch semantic duplicates that
// slipped past the source checksum. The digest covers the pre-normalization
// transaction date, concept, amount and reported remaining, concatenated in
// that order. The field order and formatting are a compatibility surface with
// checksums already stored downstream; any change must be versioned.
func ETLChecksum(transactionDate, concept, amount, reportedRemaining string) string {
	sum := md5.Sum([]byte(transactionDate + concept + amount + reportedRemaining))
	return hex.EncodeToString(sum[:])
}

// CollapseMetadata turns the extractor's ordered key/value sequence into a
// map. Later duplicates overwrite earlier ones. A malformed pair (missing key
// or value) degrades the whole record's metadata to an empty map instead of
// applying it partially.
func CollapseMetadata(pairs []domain.MetadataPair) map[string]string {
	collapsed := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if pair.Key == "" || pair.Value == "" {
			return map[string]string{}
		}
		collapsed[pair.Key] = pair.Value
	}
	return collapsed
}
