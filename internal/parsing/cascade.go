package parsing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
	"receipt-pipeline/server/internal/services"
)

// Input is the raw material the cascade works from: text extracted directly
// from a message, or text pulled from a PDF attachment plus a renderer for
// the vision fallback. ChatID/MessageID are only used to attribute the
// per-stage diagnostic log entries back to the originating message.
type Input struct {
	Text       string
	IsPDF      bool
	PDFPath    string
	MaxPDFPages int
	ChatID      int64
	MessageID   int64
}

// ParsingLogger records one cascade stage attempt. Satisfied by
// *database.DB's InsertParsingLog; left nil in places (e.g. tests) that
// don't care about the diagnostic trail.
type ParsingLogger interface {
	InsertParsingLog(chatID, messageID int64, stage, outcome string, confidence *float64, durationMillis int64) error
}

// Cascade runs the PDF-text -> regex -> model-text -> vision fallback chain
// described by §4.4: a PDF's text is extracted first (too little text goes
// straight to vision), then regex and model-text run on the text, and vision
// is the last resort for PDFs only. Each stage either returns a
// ParsedReceipt or falls through to the next; the stage actually used is
// recorded on the result.
type Cascade struct {
	Model              *services.ModelClient
	TextExtractor      TextExtractor
	PageRenderer       PageRenderer
	Timezone           *time.Location
	RegexThreshold     float64
	PDFTextMinChars    int
	Logger             ParsingLogger
}

func NewCascade(model *services.ModelClient, extractor TextExtractor, renderer PageRenderer, tz *time.Location, regexThreshold float64, pdfTextMinChars int, logger ParsingLogger) *Cascade {
	return &Cascade{
		Model:           model,
		TextExtractor:   extractor,
		PageRenderer:    renderer,
		Timezone:        tz,
		RegexThreshold:  regexThreshold,
		PDFTextMinChars: pdfTextMinChars,
		Logger:          logger,
	}
}

// Run executes the full cascade for one message.
func (c *Cascade) Run(ctx context.Context, in Input) (*models.ParsedReceipt, error) {
	text := in.Text

	if in.IsPDF {
		extracted, err := c.TextExtractor.ExtractText(in.PDFPath, in.MaxPDFPages)
		if err == nil && len(strings.TrimSpace(extracted)) >= c.PDFTextMinChars {
			text = extracted
		} else {
			return c.runVision(ctx, in, extracted)
		}
	}

	start := time.Now()
	if receipt, err := ParseRegex(text, c.Timezone); err == nil && receipt.ParsingConfidence >= c.RegexThreshold {
		c.logStage(in, "regex", "matched", &receipt.ParsingConfidence, start)
		return postValidate(receipt, text)
	}
	c.logStage(in, "regex", "failed", nil, start)

	start = time.Now()
	if receipt, err := c.modelTextFallback(ctx, text); err == nil {
		c.logStage(in, "model_text", "matched", &receipt.ParsingConfidence, start)
		return postValidate(receipt, text)
	}
	c.logStage(in, "model_text", "failed", nil, start)

	if in.IsPDF {
		return c.runVision(ctx, in, text)
	}

	return nil, errors.New(errors.ParseFailure, "all parsing stages failed")
}

func (c *Cascade) runVision(ctx context.Context, in Input, textHint string) (*models.ParsedReceipt, error) {
	start := time.Now()
	receipt, err := c.visionFallback(ctx, in, textHint)
	if err != nil {
		c.logStage(in, "vision", "failed", nil, start)
		return nil, err
	}
	c.logStage(in, "vision", "matched", &receipt.ParsingConfidence, start)
	return receipt, nil
}

func (c *Cascade) logStage(in Input, stage, outcome string, confidence *float64, start time.Time) {
	if c.Logger == nil {
		return
	}
	_ = c.Logger.InsertParsingLog(in.ChatID, in.MessageID, stage, outcome, confidence, time.Since(start).Milliseconds())
}

func (c *Cascade) modelTextFallback(ctx context.Context, text string) (*models.ParsedReceipt, error) {
	if !c.Model.Enabled() {
		return nil, errors.New(errors.ParseFailure, "model text fallback unavailable")
	}

	fields, err := c.Model.ParseTransactionText(ctx, text)
	if err != nil {
		return nil, err
	}

	return receiptFromModelFields(fields, models.MethodGPT)
}

func (c *Cascade) visionFallback(ctx context.Context, in Input, textHint string) (*models.ParsedReceipt, error) {
	if !c.Model.Enabled() {
		return nil, errors.New(errors.VisionUnavailable, "vision fallback requires a configured model API")
	}

	images, err := c.PageRenderer.RenderPagesBase64(in.PDFPath, 2, 150)
	if err != nil {
		return nil, errors.Wrap(err, errors.VisionUnavailable)
	}

	fields, err := c.Model.ParseTransactionImages(ctx, images, textHint)
	if err != nil {
		return nil, err
	}

	receipt, err := receiptFromModelFields(fields, models.MethodGPTVision)
	if err != nil {
		return nil, err
	}
	return postValidate(receipt, textHint)
}

func receiptFromModelFields(fields map[string]interface{}, method models.ParsingMethod) (*models.ParsedReceipt, error) {
	amountRaw, ok := fields["amount"]
	if !ok {
		return nil, errors.New(errors.ParseFailure, "model response missing amount")
	}
	amount, err := toDecimal(amountRaw)
	if err != nil {
		return nil, errors.New(errors.ParseFailure, "model response amount unparseable")
	}

	dateRaw, _ := fields["transaction_date_iso"].(string)
	when, err := time.Parse(time.RFC3339, dateRaw)
	if err != nil {
		when, err = time.Parse("2006-01-02T15:04:05", dateRaw)
		if err != nil {
			return nil, errors.New(errors.ParseFailure, "model response date unparseable")
		}
	}

	txType := models.TransactionType(strings.ToUpper(stringField(fields, "transaction_type")))
	if txType != models.TransactionDebit && txType != models.TransactionCredit &&
		txType != models.TransactionConversion && txType != models.TransactionReversal {
		return nil, errors.New(errors.ParseFailure, "model response has invalid transaction_type")
	}

	confidence := 0.0
	if cv, ok := fields["confidence"]; ok {
		confidence, _ = toFloat(cv)
	}

	receipt := &models.ParsedReceipt{
		Amount:            amount,
		Currency:          strings.ToUpper(stringField(fields, "currency")),
		TransactionType:   txType,
		TransactionDate:   when,
		CardLast4:         stringField(fields, "card_last_4"),
		OperatorRaw:       stringField(fields, "operator_raw"),
		ParsingMethod:     method,
		ParsingConfidence: confidence,
	}

	if balRaw, ok := fields["balance_after"]; ok {
		if bal, err := toDecimal(balRaw); err == nil {
			receipt.BalanceAfter = &bal
		}
	}

	return receipt, nil
}

// postValidate applies §4.4 step 8: require non-null amount/timestamp/type
// (already guaranteed by callers), coerce currency, take absolute values,
// fill a missing card last-4 from the raw text, and derive is_p2p from the
// operator string when the upstream stage left it unset.
func postValidate(r *models.ParsedReceipt, rawText string) (*models.ParsedReceipt, error) {
	if r.Amount.IsZero() && r.TransactionType != models.TransactionConversion {
		return nil, errors.New(errors.ParseFailure, "zero amount")
	}

	if r.Currency == "" {
		r.Currency = "UZS"
	}
	r.Currency = strings.ToUpper(r.Currency)

	r.Amount = r.Amount.Abs()
	if r.BalanceAfter != nil {
		abs := r.BalanceAfter.Abs()
		r.BalanceAfter = &abs
	}

	if r.CardLast4 == "" {
		r.CardLast4 = ExtractCardLast4(rawText)
	}
	if r.CardLast4 == "" {
		r.CardLast4 = "0000"
	}

	if r.IsP2P == nil {
		isP2P := strings.Contains(strings.ToUpper(r.OperatorRaw), "P2P")
		r.IsP2P = &isP2P
	}

	return r, nil
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		return decimal.NewFromString(t)
	default:
		return decimal.Zero, errors.New(errors.ParseFailure, "unsupported amount type")
	}
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, errors.New(errors.ParseFailure, "unsupported numeric type")
	}
}
