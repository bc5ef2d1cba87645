// Package pubsub hands admitted transactions to the downstream topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cofers/txguard/internal/domain"
)

// Publisher publishes transformed transactions to the downstream topic.
// Internal-only fields (created_at, etl_checksum) are stripped here before
// transmission; consumers never see them.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    zerolog.Logger
}

// NewPublisher connects to Pub/Sub and configures batching on the topic.
func NewPublisher(ctx context.Context, projectID, topicID string, log zerolog.Logger) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewPublisher: pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.PublishSettings = pubsub.PublishSettings{
		ByteThreshold:  1024 * 1024,
		DelayThreshold: 100 * time.Millisecond,
		CountThreshold: 500,
	}
	return &Publisher{client: client, topic: topic, log: log}, nil
}

// Close flushes pending messages and releases the connection.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// publishedTransaction is the wire shape of one transaction. It deliberately
// omits created_at and etl_checksum.
type publishedTransaction struct {
	Checksum          string            `json:"checksum"`
	TransactionDate   string            `json:"transaction_date"`
	Concept           string            `json:"concept"`
	Amount            decimal.Decimal   `json:"amount"`
	ReportedRemaining decimal.Decimal   `json:"reported_remaining"`
	AccountNumber     string            `json:"account_number"`
	AccountAlias      string            `json:"account_alias"`
	Bank              string            `json:"bank"`
	Currency          string            `json:"currency"`
	ReportType        string            `json:"report_type"`
	ExtractionDate    string            `json:"extraction_date"`
	UserID            string            `json:"user_id"`
	CompanyID         string            `json:"company_id"`
	Metadata          map[string]string `json:"metadata"`
}

func toWire(tx domain.Transaction) publishedTransaction {
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return publishedTransaction{
		Checksum:          tx.Checksum,
		TransactionDate:   tx.TransactionDate,
		Concept:           tx.Concept,
		Amount:            tx.Amount,
		ReportedRemaining: tx.ReportedRemaining,
		AccountNumber:     tx.AccountNumber,
		AccountAlias:      tx.AccountAlias,
		Bank:              tx.Bank,
		Currency:          tx.Currency,
		ReportType:        tx.ReportType,
		ExtractionDate:    tx.ExtractionDate,
		UserID:            tx.UserID,
		CompanyID:         tx.CompanyID,
		Metadata:          metadata,
	}
}

// Publish sends one transaction and waits for the server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, tx domain.Transaction) error {
	data, err := json.Marshal(toWire(tx))
	if err != nil {
		return fmt.Errorf("Publish: marshaling transaction %s: %w", tx.Checksum, err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("Publish: transaction %s: %w", tx.Checksum, err)
	}
	p.log.Debug().Str("checksum", tx.Checksum).Str("message_id", id).Msg("Published transaction")
	return nil
}

// PublishBatch sends a batch, letting the topic's publish settings coalesce
// messages, and waits for every acknowledgement.
func (p *Publisher) PublishBatch(ctx context.Context, txs []domain.Transaction) error {
	results := make([]*pubsub.PublishResult, 0, len(txs))
	for _, tx := range txs {
		data, err := json.Marshal(toWire(tx))
		if err != nil {
			return fmt.Errorf("PublishBatch: marshaling transaction %s: %w", tx.Checksum, err)
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{Data: data}))
	}
	for i, result := range results {
		if _, err := result.Get(ctx); err != nil {
			return fmt.Errorf("PublishBatch: transaction %s: %w", txs[i].Checksum, err)
		}
	}
	p.log.Info().Int("count", len(txs)).Msg("Published transaction batch")
	return nil
}
