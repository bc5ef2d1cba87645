// Package bigquery extracts raw transaction lines and reference data from
// the analytical warehouse.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/cofers/txguard/internal/domain"
)

// Warehouse reads transaction data from BigQuery with a shared client.
type Warehouse struct {
	client      *bigquery.Client
	bronzeTable string // fully qualified dataset.table holding raw ingested payloads
	silverTable string // fully qualified dataset.table holding processed transactions
}

// NewWarehouse creates a Warehouse with its own client.
func NewWarehouse(ctx context.Context, projectID, bronzeTable, silverTable string) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewWarehouse: bigquery client: %w", err)
	}
	return &Warehouse{client: client, bronzeTable: bronzeTable, silverTable: silverTable}, nil
}

// Close closes the underlying BigQuery client.
func (w *Warehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// QueryRawTransactions flattens the bronze payload for one ingested file into
// raw transaction lines. An empty result is not an error: a file can arrive
// with no extractable lines.
func (w *Warehouse) QueryRawTransactions(ctx context.Context, parts domain.Partitions, fileRef string) ([]domain.RawRecord, error) {
	q := w.client.Query(fmt.Sprintf(`
		SELECT
			lines.checksum AS checksum,
			lines.date AS transaction_date,
			lines.concept AS concept,
			lines.amount AS amount,
			lines.remaining AS reported_remaining,
			lines.metadata AS metadata,
			payload.header.account_number AS account_number,
			payload.header.account_alias AS account_alias,
			payload.header.currency AS currency,
			payload.header.timeframe AS report_type,
			payload.header.report_date AS created_at,
			payload.header.bank AS bank,
			payload.header.extraction_timestamp AS extraction_date,
			userId AS user_id,
			companyId AS company_id
		FROM `+"`%s`"+`,
		UNNEST(payload) AS payload,
		UNNEST(payload.lines) AS lines
		WHERE year = @year
		  AND month = @month
		  AND day = @day
		  AND company_id = @company_id
		  AND _FILE_NAME = @file_ref
	`, w.bronzeTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "year", Value: parts.Year},
		{Name: "month", Value: parts.Month},
		{Name: "day", Value: parts.Day},
		{Name: "company_id", Value: parts.CompanyID},
		{Name: "file_ref", Value: fileRef},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryRawTransactions: query read: %w", err)
	}

	var records []domain.RawRecord
	for {
		var r rawTransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryRawTransactions: iterating rows: %w", err)
		}
		records = append(records, r.toDomain())
	}
	return records, nil
}

// QueryReferenceTransactions returns the company's prior transactions from
// the silver table, the read-only reference set for anomaly detection.
func (w *Warehouse) QueryReferenceTransactions(ctx context.Context, companyID string) ([]domain.Transaction, error) {
	q := w.client.Query(fmt.Sprintf(`
		SELECT
			checksum,
			etl_checksum,
			transaction_date,
			concept,
			amount,
			reported_remaining,
			account_number,
			bank,
			currency,
			company_id
		FROM `+"`%s`"+`
		WHERE company_id = @company_id
	`, w.silverTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryReferenceTransactions: query read: %w", err)
	}

	var txs []domain.Transaction
	for {
		var r referenceTransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryReferenceTransactions: iterating rows: %w", err)
		}
		txs = append(txs, r.toDomain())
	}
	return txs, nil
}

// QueryChecksums fetches either the checksum or etl_checksum column for a
// company, used to drop rows that already exist warehouse-side before gating.
func (w *Warehouse) QueryChecksums(ctx context.Context, companyID, checksumField string) ([]string, error) {
	if checksumField != "checksum" && checksumField != "etl_checksum" {
		return nil, fmt.Errorf("QueryChecksums: unknown checksum field %q", checksumField)
	}

	q := w.client.Query(fmt.Sprintf(`
		SELECT %s AS checksum
		FROM `+"`%s`"+`
		WHERE company_id = @company_id
	`, checksumField, w.silverTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "company_id", Value: companyID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryChecksums: query read: %w", err)
	}

	var checksums []string
	for {
		var r struct {
			Checksum bigquery.NullString `bigquery:"checksum"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryChecksums: iterating rows: %w", err)
		}
		if r.Checksum.Valid {
			checksums = append(checksums, r.Checksum.StringVal)
		}
	}
	return checksums, nil
}
