package domain

import (
	"github.com/shopspring/decimal"
)

// MetadataPair is one key/value entry as it arrives from the extractor.
// Keys are not necessarily unique within a record's metadata sequence.
type MetadataPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RawRecord is one transaction line as returned by the warehouse extractor.
// It is immutable once produced; its lifetime is a single pipeline invocation.
type RawRecord struct {
	Checksum          string // content hash of the source line, assigned upstream
	TransactionDate   string // format varies by source bank
	Concept           string // free-text description
	Amount            decimal.Decimal
	ReportedRemaining decimal.Decimal // balance reported by the bank, optional
	HasRemaining      bool
	AccountNumber     string
	AccountAlias      string
	Bank              string
	Currency          string
	ReportType        string
	ExtractionDate    string
	UserID            string
	CompanyID         string
	CreatedAt         string // report date as delivered upstream
	Metadata          []MetadataPair
}

// Transaction is a RawRecord after normalization. Checksum is always
// preserved verbatim from the source; ETLChecksum is derived here and is
// deterministic over its four constituent fields.
type Transaction struct {
	Checksum          string            `json:"checksum"`
	ETLChecksum       string            `json:"etl_checksum"`
	TransactionDate   string            `json:"transaction_date"` // always YYYY-MM-DD when parseable
	Concept           string            `json:"concept"`
	Amount            decimal.Decimal   `json:"amount"`
	ReportedRemaining decimal.Decimal   `json:"reported_remaining"`
	HasRemaining      bool              `json:"-"`
	AccountNumber     string            `json:"account_number"`
	AccountAlias      string            `json:"account_alias"`
	Bank              string            `json:"bank"`
	Currency          string            `json:"currency"`
	ReportType        string            `json:"report_type"`
	ExtractionDate    string            `json:"extraction_date"`
	UserID            string            `json:"user_id"`
	CompanyID         string            `json:"company_id"`
	CreatedAt         string            `json:"created_at"` // canonicalized, stripped before publication
	Metadata          map[string]string `json:"metadata"`
}

// Partitions are the batch coordinates parsed from an object path's
// key=value segments.
type Partitions struct {
	Year      string
	Month     string
	Day       string
	CompanyID string
}
