package pipeline

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cofers/txguard/internal/dedupe"
	"github.com/cofers/txguard/internal/detect"
	"github.com/cofers/txguard/internal/domain"
	"github.com/cofers/txguard/internal/normalize"
)

// mockExtractor serves canned warehouse data.
type mockExtractor struct {
	raws      []domain.RawRecord
	reference []domain.Transaction
	checksums map[string][]string // field -> values
}

func (m *mockExtractor) QueryRawTransactions(ctx context.Context, parts domain.Partitions, fileRef string) ([]domain.RawRecord, error) {
	return m.raws, nil
}

func (m *mockExtractor) QueryReferenceTransactions(ctx context.Context, companyID string) ([]domain.Transaction, error) {
	return m.reference, nil
}

func (m *mockExtractor) QueryChecksums(ctx context.Context, companyID, checksumField string) ([]string, error) {
	return m.checksums[checksumField], nil
}

// mockPublisher records everything it is asked to publish.
type mockPublisher struct {
	published []domain.Transaction
}

func (m *mockPublisher) PublishBatch(ctx context.Context, txs []domain.Transaction) error {
	m.published = append(m.published, txs...)
	return nil
}

func newTestRunner(t *testing.T, extractor *mockExtractor, publisher *mockPublisher) *Runner {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	gate := dedupe.NewGate(dedupe.NewRedisStore(client), dedupe.Options{}, zerolog.Nop())

	detector, err := detect.New(detect.Config{
		Weights:          detect.Weights{Concept: 0.8, Amount: 0.1, TransactionDate: 0.1},
		AnomalyThreshold: 0.9,
		WarningThreshold: 0.7,
		AmountTolerance:  1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("detect.New failed: %v", err)
	}

	return NewRunner(extractor, normalize.New(zerolog.Nop()), gate, detector, publisher, zerolog.Nop())
}

func rawRecord(checksum string, amount int64) domain.RawRecord {
	return domain.RawRecord{
		Checksum:        checksum,
		TransactionDate: "2024-11-20",
		Concept:         "traspaso actinver - Receptor: BBVA MEXICO",
		Amount:          decimal.NewFromInt(amount),
		AccountNumber:   "133180000075522355",
		Bank:            "actinver",
		Currency:        "MXN",
		CompanyID:       "c-1",
	}
}

const objectPath = "year=2024/month=11/day=20/company_id=c-1/batch-000.avro"

func TestParsePartitions(t *testing.T) {
	parts, err := ParsePartitions(objectPath)
	if err != nil {
		t.Fatalf("ParsePartitions failed: %v", err)
	}
	want := domain.Partitions{Year: "2024", Month: "11", Day: "20", CompanyID: "c-1"}
	if parts != want {
		t.Errorf("ParsePartitions = %+v, want %+v", parts, want)
	}
}

func TestParsePartitions_MissingKey(t *testing.T) {
	if _, err := ParsePartitions("year=2024/month=11/batch.avro"); err == nil {
		t.Fatal("expected an error for a path without all partition keys")
	}
}

func TestRun_EmptyExtraction(t *testing.T) {
	publisher := &mockPublisher{}
	runner := newTestRunner(t, &mockExtractor{}, publisher)

	result, err := runner.Run(context.Background(), "ingest", objectPath)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 0 || result.Admitted != 0 || len(result.Anomalies) != 0 {
		t.Errorf("empty extraction must report zeros, got %+v", result)
	}
	if len(publisher.published) != 0 {
		t.Errorf("nothing should be published, got %d", len(publisher.published))
	}
}

func TestRun_PublishesAdmittedTransactions(t *testing.T) {
	extractor := &mockExtractor{
		raws: []domain.RawRecord{rawRecord("aaa", -50000), rawRecord("bbb", 1200)},
	}
	publisher := &mockPublisher{}
	runner := newTestRunner(t, extractor, publisher)

	result, err := runner.Run(context.Background(), "ingest", objectPath)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Processed != 2 || result.Admitted != 2 {
		t.Errorf("result = %+v, want 2 processed, 2 admitted", result)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("published %d transactions, want 2", len(publisher.published))
	}
	if publisher.published[0].Checksum != "aaa" || publisher.published[1].Checksum != "bbb" {
		t.Errorf("publication order not preserved: %v", publisher.published)
	}
}

func TestRun_SecondInvocationPublishesNothing(t *testing.T) {
	extractor := &mockExtractor{
		raws: []domain.RawRecord{rawRecord("aaa", -50000)},
	}
	publisher := &mockPublisher{}
	runner := newTestRunner(t, extractor, publisher)
	ctx := context.Background()

	if _, err := runner.Run(ctx, "ingest", objectPath); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// The registry now contains the checksum; a redelivered notification
	// must forward zero transactions to the publisher.
	result, err := runner.Run(ctx, "ingest", objectPath)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if result.Admitted != 0 {
		t.Errorf("second invocation admitted %d, want 0", result.Admitted)
	}
	if len(publisher.published) != 1 {
		t.Errorf("publisher received %d transactions across both runs, want 1", len(publisher.published))
	}
}

func TestRun_FlagsAlteredAmountAgainstReference(t *testing.T) {
	reference := rawRecord("673eb8b4cced4706752afd3e", -500000)
	extractor := &mockExtractor{
		raws: []domain.RawRecord{rawRecord("22222", -50000)},
		reference: []domain.Transaction{{
			Checksum:        reference.Checksum,
			TransactionDate: reference.TransactionDate,
			Concept:         reference.Concept,
			Amount:          reference.Amount,
			AccountNumber:   reference.AccountNumber,
			Bank:            reference.Bank,
			Currency:        reference.Currency,
		}},
	}
	publisher := &mockPublisher{}
	runner := newTestRunner(t, extractor, publisher)

	result, err := runner.Run(context.Background(), "ingest", objectPath)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(result.Anomalies))
	}
	if len(result.Anomalies[0].Reasons) == 0 {
		t.Error("anomaly must carry at least one concrete reason")
	}
}

func TestRun_DropsWarehouseKnownChecksums(t *testing.T) {
	extractor := &mockExtractor{
		raws:      []domain.RawRecord{rawRecord("aaa", -50000), rawRecord("bbb", 1200)},
		checksums: map[string][]string{"checksum": {"aaa"}},
	}
	publisher := &mockPublisher{}
	runner := newTestRunner(t, extractor, publisher)

	result, err := runner.Run(context.Background(), "ingest", objectPath)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Admitted != 1 {
		t.Fatalf("admitted %d, want 1 (warehouse-known row must be dropped)", result.Admitted)
	}
	if publisher.published[0].Checksum != "bbb" {
		t.Errorf("published %q, want bbb", publisher.published[0].Checksum)
	}
}
