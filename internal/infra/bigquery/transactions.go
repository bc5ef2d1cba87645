package bigquery

import (
	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/cofers/txguard/internal/domain"
)

// metadataEntry is one element of the repeated metadata record on a bronze line.
type metadataEntry struct {
	Key   bigquery.NullString `bigquery:"key"`
	Value bigquery.NullString `bigquery:"value"`
}

// rawTransactionRow is one transaction line as flattened out of the bronze
// table's nested payload.
type rawTransactionRow struct {
	Checksum          string               `bigquery:"checksum"`
	TransactionDate   bigquery.NullString  `bigquery:"transaction_date"`
	Concept           bigquery.NullString  `bigquery:"concept"`
	Amount            bigquery.NullFloat64 `bigquery:"amount"`
	ReportedRemaining bigquery.NullFloat64 `bigquery:"reported_remaining"`
	AccountNumber     bigquery.NullString  `bigquery:"account_number"`
	AccountAlias      bigquery.NullString  `bigquery:"account_alias"`
	Currency          bigquery.NullString  `bigquery:"currency"`
	ReportType        bigquery.NullString  `bigquery:"report_type"`
	CreatedAt         bigquery.NullString  `bigquery:"created_at"`
	Bank              bigquery.NullString  `bigquery:"bank"`
	ExtractionDate    bigquery.NullString  `bigquery:"extraction_date"`
	UserID            bigquery.NullString  `bigquery:"user_id"`
	CompanyID         bigquery.NullString  `bigquery:"company_id"`
	Metadata          []metadataEntry      `bigquery:"metadata"`
}

func (r *rawTransactionRow) toDomain() domain.RawRecord {
	rec := domain.RawRecord{
		Checksum:        r.Checksum,
		TransactionDate: r.TransactionDate.StringVal,
		Concept:         r.Concept.StringVal,
		AccountNumber:   r.AccountNumber.StringVal,
		AccountAlias:    r.AccountAlias.StringVal,
		Currency:        r.Currency.StringVal,
		ReportType:      r.ReportType.StringVal,
		CreatedAt:       r.CreatedAt.StringVal,
		Bank:            r.Bank.StringVal,
		ExtractionDate:  r.ExtractionDate.StringVal,
		UserID:          r.UserID.StringVal,
		CompanyID:       r.CompanyID.StringVal,
	}
	if r.Amount.Valid {
		rec.Amount = decimal.NewFromFloat(r.Amount.Float64)
	}
	if r.ReportedRemaining.Valid {
		rec.ReportedRemaining = decimal.NewFromFloat(r.ReportedRemaining.Float64)
		rec.HasRemaining = true
	}
	for _, m := range r.Metadata {
		rec.Metadata = append(rec.Metadata, domain.MetadataPair{
			Key:   m.Key.StringVal,
			Value: m.Value.StringVal,
		})
	}
	return rec
}

// referenceTransactionRow is one prior transaction from the silver table,
// used as the reference set for anomaly detection.
type referenceTransactionRow struct {
	Checksum          string               `bigquery:"checksum"`
	ETLChecksum       bigquery.NullString  `bigquery:"etl_checksum"`
	TransactionDate   bigquery.NullString  `bigquery:"transaction_date"`
	Concept           bigquery.NullString  `bigquery:"concept"`
	Amount            bigquery.NullFloat64 `bigquery:"amount"`
	ReportedRemaining bigquery.NullFloat64 `bigquery:"reported_remaining"`
	AccountNumber     bigquery.NullString  `bigquery:"account_number"`
	Bank              bigquery.NullString  `bigquery:"bank"`
	Currency          bigquery.NullString  `bigquery:"currency"`
	CompanyID         bigquery.NullString  `bigquery:"company_id"`
}

func (r *referenceTransactionRow) toDomain() domain.Transaction {
	tx := domain.Transaction{
		Checksum:        r.Checksum,
		ETLChecksum:     r.ETLChecksum.StringVal,
		TransactionDate: r.TransactionDate.StringVal,
		Concept:         r.Concept.StringVal,
		AccountNumber:   r.AccountNumber.StringVal,
		Bank:            r.Bank.StringVal,
		Currency:        r.Currency.StringVal,
		CompanyID:       r.CompanyID.StringVal,
	}
	if r.Amount.Valid {
		tx.Amount = decimal.NewFromFloat(r.Amount.Float64)
	}
	if r.ReportedRemaining.Valid {
		tx.ReportedRemaining = decimal.NewFromFloat(r.ReportedRemaining.Float64)
		tx.HasRemaining = true
	}
	return tx
}
