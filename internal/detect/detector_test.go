package detect

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cofers/txguard/internal/domain"
)

// productionWeights is the tuned weight set used by the live deployment.
var productionWeights = Weights{
	Concept:         0.8,
	Amount:          0.1,
	TransactionDate: 0.1,
}

func mustDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func tx(checksum string, amount int64, concept, date string) domain.Transaction {
	return domain.Transaction{
		Checksum:        checksum,
		Concept:         concept,
		Amount:          decimal.NewFromInt(amount),
		TransactionDate: date,
		AccountNumber:   "133180000075522355",
		Bank:            "actinver",
		Currency:        "MXN",
	}
}

func TestNew_RejectsBadWeights(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "weights sum below one",
			cfg:  Config{Weights: Weights{Concept: 0.5, Amount: 0.2}, AnomalyThreshold: 0.9, WarningThreshold: 0.7},
		},
		{
			name: "weights sum above one",
			cfg:  Config{Weights: Weights{Concept: 0.8, Amount: 0.2, TransactionDate: 0.2}, AnomalyThreshold: 0.9, WarningThreshold: 0.7},
		},
		{
			name: "warning threshold above anomaly threshold",
			cfg:  Config{Weights: productionWeights, AnomalyThreshold: 0.7, WarningThreshold: 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, zerolog.Nop()); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}
}

func TestNew_AcceptsAlternateWeightSet(t *testing.T) {
	// The earlier tuning cycle used 0.5/0.2/0.3; both sets must validate.
	cfg := Config{
		Weights:          Weights{Concept: 0.5, Amount: 0.2, TransactionDate: 0.3},
		AnomalyThreshold: 0.9,
		WarningThreshold: 0.7,
	}
	if _, err := New(cfg, zerolog.Nop()); err != nil {
		t.Fatalf("New failed: %v", err)
	}
}

func TestDetect_AlteredAmountAnomaly(t *testing.T) {
	d := mustDetector(t, Config{
		Weights:          productionWeights,
		AnomalyThreshold: 0.9,
		WarningThreshold: 0.7,
		AmountTolerance:  1,
	})

	concept := "traspaso actinver - Receptor: BBVA MEXICO, Beneficiario: BANCO ACTINVER"
	batch := []domain.Transaction{tx("22222", -50000, concept, "2024-11-20")}
	reference := []domain.Transaction{tx("673eb8b4cced4706752afd3e", -500000, concept, "2024-11-20")}

	anomalies, warnings := d.Detect(batch, reference)
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies (%d warnings), want 1", len(anomalies), len(warnings))
	}

	a := anomalies[0]
	if a.Score < 0.9 {
		t.Errorf("score %v should clear the anomaly threshold", a.Score)
	}
	if len(a.Reasons) == 0 || !strings.HasPrefix(a.Reasons[0], "amount differs significantly") {
		t.Errorf("want an 'amount differs significantly' reason, got %v", a.Reasons)
	}
	if a.Fields.Concept < 0.999 {
		t.Errorf("identical concepts should score 1.0, got %v", a.Fields.Concept)
	}
}

func TestDetect_NoReasonDowngradesToWarning(t *testing.T) {
	d := mustDetector(t, Config{
		Weights:          productionWeights,
		AnomalyThreshold: 0.9,
		WarningThreshold: 0.7,
		AmountTolerance:  1,
	})

	// Identical transactions clear the anomaly threshold but nothing
	// concrete fires: near-duplicate but explainable is not a defect.
	record := tx("aaa", -50000, "traspaso actinver", "2024-11-20")
	ref := tx("bbb", -50000, "traspaso actinver", "2024-11-20")

	anomalies, warnings := d.Detect([]domain.Transaction{record}, []domain.Transaction{ref})
	if len(anomalies) != 0 {
		t.Fatalf("got %d anomalies, want 0", len(anomalies))
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
}

func TestDetect_ThresholdBoundaries(t *testing.T) {
	// Weights chosen so the combined score is exact in binary floating
	// point: 0.5*date + 0.5*amount.
	cfg := Config{
		Weights:          Weights{TransactionDate: 0.5, Amount: 0.5},
		AnomalyThreshold: 0.75,
		WarningThreshold: 0.75,
		AmountTolerance:  10,
	}

	t.Run("exactly at anomaly threshold with reason", func(t *testing.T) {
		d := mustDetector(t, cfg)
		// date match (1.0) + amount 100 vs 50 (0.5) = 0.75 exactly.
		batch := []domain.Transaction{tx("a", 100, "x", "2024-11-20")}
		ref := []domain.Transaction{tx("b", 50, "x", "2024-11-20")}
		anomalies, _ := d.Detect(batch, ref)
		if len(anomalies) != 1 {
			t.Fatalf("score at threshold with a reason must classify as anomaly, got %d", len(anomalies))
		}
	})

	t.Run("exactly at warning threshold", func(t *testing.T) {
		d := mustDetector(t, Config{
			Weights:          cfg.Weights,
			AnomalyThreshold: 0.9,
			WarningThreshold: 0.75,
			AmountTolerance:  10,
		})
		batch := []domain.Transaction{tx("a", 100, "x", "2024-11-20")}
		ref := []domain.Transaction{tx("b", 50, "x", "2024-11-20")}
		anomalies, warnings := d.Detect(batch, ref)
		if len(anomalies) != 0 || len(warnings) != 1 {
			t.Fatalf("score at warning threshold must classify as warning, got %d anomalies %d warnings",
				len(anomalies), len(warnings))
		}
	})

	t.Run("below warning threshold is benign", func(t *testing.T) {
		d := mustDetector(t, cfg)
		// date mismatch (0.0) + amount 100 vs 50 (0.5) = 0.25.
		batch := []domain.Transaction{tx("a", 100, "x", "2024-11-20")}
		ref := []domain.Transaction{tx("b", 50, "x", "2024-11-21")}
		anomalies, warnings := d.Detect(batch, ref)
		if len(anomalies) != 0 || len(warnings) != 0 {
			t.Fatalf("benign pair must not be reported, got %d anomalies %d warnings",
				len(anomalies), len(warnings))
		}
	})
}

func TestDetect_ReportedRemainingReason(t *testing.T) {
	d := mustDetector(t, Config{
		Weights:          productionWeights,
		AnomalyThreshold: 0.9,
		WarningThreshold: 0.7,
		AmountTolerance:  1000000, // amount reason must not fire here
	})

	record := tx("aaa", -50000, "traspaso actinver", "2024-11-20")
	record.ReportedRemaining = decimal.NewFromInt(120000)
	record.HasRemaining = true
	ref := tx("bbb", -50000, "traspaso actinver", "2024-11-20")
	ref.ReportedRemaining = decimal.NewFromInt(90000)
	ref.HasRemaining = true

	anomalies, _ := d.Detect([]domain.Transaction{record}, []domain.Transaction{ref})
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(anomalies))
	}
	if !strings.HasPrefix(anomalies[0].Reasons[0], "reported remaining differs") {
		t.Errorf("want a 'reported remaining differs' reason, got %v", anomalies[0].Reasons)
	}
}

func TestDetect_EmptyInputs(t *testing.T) {
	d := mustDetector(t, Config{
		Weights:          productionWeights,
		AnomalyThreshold: 0.9,
		WarningThreshold: 0.7,
	})

	anomalies, warnings := d.Detect(nil, []domain.Transaction{tx("a", 1, "x", "2024-11-20")})
	if len(anomalies) != 0 || len(warnings) != 0 {
		t.Fatal("empty batch must report nothing")
	}
	anomalies, warnings = d.Detect([]domain.Transaction{tx("a", 1, "x", "2024-11-20")}, nil)
	if len(anomalies) != 0 || len(warnings) != 0 {
		t.Fatal("empty reference must report nothing")
	}
}
