package parsing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
	"receipt-pipeline/server/internal/services"
)

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(path string, maxPages int) (string, error) {
	return f.text, f.err
}

// newTestCascade builds a cascade around a disabled model client (an empty
// APIKey, exactly like an unconfigured deployment) so tests exercise the
// regex and PDF-text stages without a network dependency.
func newTestCascade(extractor TextExtractor, renderer PageRenderer) *Cascade {
	model := services.NewModelClient(config.ModelConfig{})
	return NewCascade(model, extractor, renderer, time.UTC, 0.8, 80, nil)
}

func TestCascade_RegexStageSucceeds(t *testing.T) {
	c := newTestCascade(fakeExtractor{}, NullPageRenderer{})
	text := "➖ 150 000.00 UZS\nОплата\n💳 HUMOCARD **6905\n📍 KORZINKA MARKET\n🕓 14:32 29.07.26"

	got, err := c.Run(context.Background(), Input{Text: text})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got.ParsingMethod != models.MethodRegexHumo {
		t.Errorf("ParsingMethod = %v, want %v", got.ParsingMethod, models.MethodRegexHumo)
	}
	if got.CardLast4 != "6905" {
		t.Errorf("CardLast4 = %q, want 6905", got.CardLast4)
	}
	if got.IsP2P == nil || *got.IsP2P {
		t.Errorf("IsP2P = %v, want false (non-P2P operator)", got.IsP2P)
	}
}

func TestCascade_AllStagesFailWithoutModel(t *testing.T) {
	c := newTestCascade(fakeExtractor{}, NullPageRenderer{})

	_, err := c.Run(context.Background(), Input{Text: "just chatting, nothing receipt-shaped here"})
	if err == nil {
		t.Fatal("expected Run to fail when no dialect matches and the model is disabled")
	}
	appErr, ok := errors.IsAppError(err)
	if !ok {
		t.Fatalf("expected *errors.AppError, got %T", err)
	}
	if appErr.Code != errors.ParseFailure {
		t.Errorf("Code = %v, want ParseFailure", appErr.Code)
	}
}

func TestCascade_PDFShortTextFallsToVision(t *testing.T) {
	c := newTestCascade(fakeExtractor{text: "too short"}, NullPageRenderer{})

	_, err := c.Run(context.Background(), Input{IsPDF: true, PDFPath: "/tmp/receipt.pdf"})
	if err == nil {
		t.Fatal("expected an error when PDF text is too short and vision is unconfigured")
	}
	appErr, ok := errors.IsAppError(err)
	if !ok {
		t.Fatalf("expected *errors.AppError, got %T", err)
	}
	if appErr.Code != errors.VisionUnavailable {
		t.Errorf("Code = %v, want VisionUnavailable", appErr.Code)
	}
}

func TestCascade_PDFSufficientTextUsesRegex(t *testing.T) {
	longText := "➖ 150 000.00 UZS\nОплата\n💳 HUMOCARD **6905\n📍 KORZINKA MARKET SUPERMARKET CHAIN BRANCH 42\n🕓 14:32 29.07.26"
	c := newTestCascade(fakeExtractor{text: longText}, NullPageRenderer{})

	got, err := c.Run(context.Background(), Input{IsPDF: true, PDFPath: "/tmp/receipt.pdf"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got.ParsingMethod != models.MethodRegexHumo {
		t.Errorf("ParsingMethod = %v, want %v", got.ParsingMethod, models.MethodRegexHumo)
	}
}

func TestPostValidate_DefaultsAndAbsoluteValue(t *testing.T) {
	r := &models.ParsedReceipt{
		Amount:          decimal.NewFromFloat(-500),
		TransactionType: models.TransactionDebit,
		OperatorRaw:     "SOME P2P TRANSFER",
	}
	got, err := postValidate(r, "no card digits in this text")
	if err != nil {
		t.Fatalf("postValidate error: %v", err)
	}
	if got.Currency != "UZS" {
		t.Errorf("Currency = %q, want default UZS", got.Currency)
	}
	if got.Amount.IsNegative() {
		t.Errorf("Amount = %v, want absolute value", got.Amount)
	}
	if got.CardLast4 != "0000" {
		t.Errorf("CardLast4 = %q, want fallback 0000", got.CardLast4)
	}
	if got.IsP2P == nil || !*got.IsP2P {
		t.Errorf("IsP2P = %v, want true for operator containing P2P", got.IsP2P)
	}
}

func TestPostValidate_RejectsZeroAmount(t *testing.T) {
	r := &models.ParsedReceipt{Amount: decimal.NewFromFloat(0), TransactionType: models.TransactionDebit}
	if _, err := postValidate(r, ""); err == nil {
		t.Error("expected zero-amount debit to be rejected")
	}
}

func TestPostValidate_AllowsZeroAmountConversion(t *testing.T) {
	r := &models.ParsedReceipt{Amount: decimal.NewFromFloat(0), TransactionType: models.TransactionConversion}
	if _, err := postValidate(r, ""); err != nil {
		t.Errorf("expected zero-amount conversion to be allowed, got error: %v", err)
	}
}
