// Package gcs reads serialized record-batch files from object storage. The
// normal ingestion path extracts from the warehouse; this reader backs the
// replay tool, which pulls a batch straight from the bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/hamba/avro/v2/ocf"
	"github.com/shopspring/decimal"

	"github.com/cofers/txguard/internal/domain"
)

// BatchReader downloads and decodes Avro record batches.
type BatchReader struct {
	client *storage.Client
}

// NewBatchReader creates a BatchReader with its own storage client.
func NewBatchReader(ctx context.Context) (*BatchReader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewBatchReader: storage client: %w", err)
	}
	return &BatchReader{client: client}, nil
}

// Close releases the storage client.
func (r *BatchReader) Close() error {
	return r.client.Close()
}

type avroMetadata struct {
	Key   string `avro:"key"`
	Value string `avro:"value"`
}

type avroLine struct {
	Checksum  string         `avro:"checksum"`
	Date      string         `avro:"date"`
	Concept   string         `avro:"concept"`
	Amount    float64        `avro:"amount"`
	Remaining *float64       `avro:"remaining"`
	Metadata  []avroMetadata `avro:"metadata"`
}

type avroHeader struct {
	AccountNumber       string `avro:"account_number"`
	AccountAlias        string `avro:"account_alias"`
	Currency            string `avro:"currency"`
	Timeframe           string `avro:"timeframe"`
	ReportDate          string `avro:"report_date"`
	Bank                string `avro:"bank"`
	ExtractionTimestamp string `avro:"extraction_timestamp"`
}

// avroReport is one bank report in the batch file: a header plus its lines.
type avroReport struct {
	Header    avroHeader `avro:"header"`
	Lines     []avroLine `avro:"lines"`
	UserID    string     `avro:"userId"`
	CompanyID string     `avro:"companyId"`
}

// ReadBatch downloads gs://bucket/object and flattens its reports into raw
// transaction records, one per line, in file order.
func (r *BatchReader) ReadBatch(ctx context.Context, bucket, object string) ([]domain.RawRecord, error) {
	reader, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadBatch: open gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("ReadBatch: read gs://%s/%s: %w", bucket, object, err)
	}
	return decodeBatch(data)
}

func decodeBatch(data []byte) ([]domain.RawRecord, error) {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decodeBatch: opening avro container: %w", err)
	}

	var records []domain.RawRecord
	for dec.HasNext() {
		var report avroReport
		if err := dec.Decode(&report); err != nil {
			return nil, fmt.Errorf("decodeBatch: decoding report: %w", err)
		}
		for _, line := range report.Lines {
			rec := domain.RawRecord{
				Checksum:        line.Checksum,
				TransactionDate: line.Date,
				Concept:         line.Concept,
				Amount:          decimal.NewFromFloat(line.Amount),
				AccountNumber:   report.Header.AccountNumber,
				AccountAlias:    report.Header.AccountAlias,
				Currency:        report.Header.Currency,
				ReportType:      report.Header.Timeframe,
				CreatedAt:       report.Header.ReportDate,
				Bank:            report.Header.Bank,
				ExtractionDate:  report.Header.ExtractionTimestamp,
				UserID:          report.UserID,
				CompanyID:       report.CompanyID,
			}
			if line.Remaining != nil {
				rec.ReportedRemaining = decimal.NewFromFloat(*line.Remaining)
				rec.HasRemaining = true
			}
			for _, m := range line.Metadata {
				rec.Metadata = append(rec.Metadata, domain.MetadataPair{Key: m.Key, Value: m.Value})
			}
			records = append(records, rec)
		}
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decodeBatch: reading avro container: %w", err)
	}
	return records, nil
}
