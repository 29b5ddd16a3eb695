// Package parsing implements the cascade that turns raw receipt text (or
// extracted PDF/vision text) into a models.ParsedReceipt: four deterministic
// regex dialects, a normalized amount/date/card parser, and the fingerprint
// used by the Transaction Store's content-duplicate probe.
package parsing

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// dialect patterns, grounded on the four notification formats the source
// system's regex parser recognized.
var (
	humoAmount   = regexp.MustCompile(`[➖➕💸]\s*([\d\s.,]+)\s*(UZS|USD)`)
	humoType     = regexp.MustCompile(`(Оплата|Пополнение|Операция|Конверсия)`)
	humoCard     = regexp.MustCompile(`(?:HUMO-?CARD|HUMOCARD|💳)\s*([\d*]{6,})`)
	humoOperator = regexp.MustCompile(`📍\s*(.+)`)
	humoDateTime = regexp.MustCompile(`[🕓🕘]\s*(?:(\d{2}:\d{2})\s+(\d{2}\.\d{2}\.\d{2,4})|(\d{2}\.\d{2}\.\d{2,4})\s+(\d{2}:\d{2}))`)
	humoBalance  = regexp.MustCompile(`[💰💵]\s*([\d\s.,]+)\s*(USD|UZS)`)

	smsOperator    = regexp.MustCompile(`(?:Pokupka|Spisanie c karty|Popolnenie scheta|E-Com oplata|Platezh):\s*(.+?)(?:,|\s+\d{2}\.\d{2})`)
	smsDateTime    = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{2})\s+(\d{2}:\d{2})`)
	smsAmount      = regexp.MustCompile(`summa:([\d\s.,]+)\s*UZS`)
	smsCard        = regexp.MustCompile(`karta\s*\*{3}(\d{4})`)
	smsBalance     = regexp.MustCompile(`balans:([\d\s.,]+)\s*UZS`)
	smsTypeKeyword = regexp.MustCompile(`^(Pokupka|Spisanie|Popolnenie|E-Com|Platezh|OTMENA)`)

	semicolonCardAmount = regexp.MustCompile(`HUMOCARD\s*\*(\d{4}):\s*(oplata|popolnenie|operacija)\s+([\d.]+)\s*UZS`)
	semicolonOperator   = regexp.MustCompile(`;\s*([^;]+?)\s*;`)
	semicolonDateTime   = regexp.MustCompile(`;\s*(\d{2})-(\d{2})-(\d{2})\s+(\d{2}:\d{2})`)
	semicolonBalance    = regexp.MustCompile(`Dostupno:\s*([\d.]+)\s*UZS`)

	cardxabarAmount   = regexp.MustCompile(`[➖➕]\s*([\d\s.,]+)\s*(USD|UZS)`)
	cardxabarCard     = regexp.MustCompile(`💳\s*([\d*]{6,})`)
	cardxabarOperator = regexp.MustCompile(`📍\s*(.+)`)
	cardxabarDateTime = regexp.MustCompile(`🕓\s*(?:(\d{2}:\d{2})\s+(\d{2}\.\d{2}\.\d{2,4})|(\d{2}\.\d{2}\.\d{2,4})\s+(\d{2}:\d{2}))`)
	cardxabarBalance  = regexp.MustCompile(`[💰💵]\s*([\d\s.,]+)\s*(USD|UZS)?`)

	cardLast4Patterns = []*regexp.Regexp{
		regexp.MustCompile(`\*+(\d{4})`),
		regexp.MustCompile(`\d+\*+(\d{4})`),
		regexp.MustCompile(`\d+\*+\d*(\d{4})`),
	}
)

// ParseRegex runs the cascade of dialect selectors in cheapest-first order
// and returns the first dialect's output, or a ParseFailure error if none
// match. The
// selector order and trigger substrings are load-bearing: several dialects'
// patterns can coincidentally match text meant for another, so cheap marker
// substrings gate entry before the full pattern set runs.
func ParseRegex(text string, tz *time.Location) (*models.ParsedReceipt, error) {
	if containsAny(text, "CardXabar", "NBU Card", "🔴", "🟢") {
		if r, err := parseCardxabar(text, tz); err == nil {
			return r, nil
		}
	}
	if containsAny(text, "💸", "💳", "📍", "🕓", "🕘") {
		if r, err := parseHumoNotification(text, tz); err == nil {
			return r, nil
		}
	}
	if strings.Contains(text, "HUMOCARD *") && strings.Contains(text, ";") {
		if r, err := parseSemicolonFormat(text, tz); err == nil {
			return r, nil
		}
	}
	if strings.Contains(text, "summa:") && strings.Contains(text, "karta") {
		if r, err := parseSMSInline(text, tz); err == nil {
			return r, nil
		}
	}
	return nil, errors.New(errors.ParseFailure, "no regex dialect matched")
}

func containsAny(text string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func parseHumoNotification(text string, tz *time.Location) (*models.ParsedReceipt, error) {
	am := humoAmount.FindStringSubmatch(text)
	if am == nil {
		return nil, errors.New(errors.ParseFailure, "humo: no amount match")
	}
	amount, err := NormalizeAmount(am[1])
	if err != nil {
		return nil, err
	}

	dt := humoDateTime.FindStringSubmatch(text)
	if dt == nil {
		return nil, errors.New(errors.ParseFailure, "humo: no datetime match")
	}
	when, err := parseDateTimeMatch(dt, tz, "dotted")
	if err != nil {
		return nil, err
	}

	txType := models.TransactionCredit
	if tm := humoType.FindStringSubmatch(text); tm != nil {
		switch tm[1] {
		case "Оплата", "Операция":
			txType = models.TransactionDebit
		case "Пополнение":
			txType = models.TransactionCredit
		case "Конверсия":
			txType = models.TransactionConversion
		}
	} else if strings.Contains(strings.ToUpper(text), "OTMENA") {
		txType = models.TransactionReversal
	} else if strings.Contains(strings.ToUpper(text), "КОНВЕРС") || strings.Contains(strings.ToUpper(text), "CONVERS") {
		txType = models.TransactionConversion
	} else if strings.Contains(text, "➕") || strings.Contains(text, "🎉") {
		txType = models.TransactionCredit
	} else {
		txType = models.TransactionDebit
	}

	result := &models.ParsedReceipt{
		Amount:            amount,
		Currency:          am[2],
		TransactionType:   txType,
		TransactionDate:   when,
		ParsingMethod:      models.MethodRegexHumo,
		ParsingConfidence: 0.95,
	}
	if cm := humoCard.FindStringSubmatch(text); cm != nil {
		result.CardLast4 = ExtractCardLast4(cm[1])
	}
	if om := humoOperator.FindStringSubmatch(text); om != nil {
		result.OperatorRaw = strings.TrimSpace(om[1])
	}
	if bm := humoBalance.FindStringSubmatch(text); bm != nil {
		if bal, err := NormalizeAmount(bm[1]); err == nil {
			result.BalanceAfter = &bal
		}
	}
	return result, nil
}

func parseSMSInline(text string, tz *time.Location) (*models.ParsedReceipt, error) {
	am := smsAmount.FindStringSubmatch(text)
	if am == nil {
		return nil, errors.New(errors.ParseFailure, "sms: no amount match")
	}
	amount, err := NormalizeAmount(am[1])
	if err != nil {
		return nil, err
	}

	dt := smsDateTime.FindStringSubmatch(text)
	if dt == nil {
		return nil, errors.New(errors.ParseFailure, "sms: no datetime match")
	}
	when, err := parseDateTimeSimple(dt[1], dt[2], tz)
	if err != nil {
		return nil, err
	}

	txType := models.TransactionDebit
	if km := smsTypeKeyword.FindStringSubmatch(text); km != nil {
		switch km[1] {
		case "Popolnenie":
			txType = models.TransactionCredit
		case "OTMENA":
			txType = models.TransactionReversal
		default:
			txType = models.TransactionDebit
		}
	}

	result := &models.ParsedReceipt{
		Amount:            amount,
		Currency:          "UZS",
		TransactionType:   txType,
		TransactionDate:   when,
		ParsingMethod:      models.MethodRegexSMS,
		ParsingConfidence: 0.90,
	}
	if om := smsOperator.FindStringSubmatch(text); om != nil {
		result.OperatorRaw = strings.TrimSpace(om[1])
	}
	if cm := smsCard.FindStringSubmatch(text); cm != nil {
		result.CardLast4 = cm[1]
	}
	if bm := smsBalance.FindStringSubmatch(text); bm != nil {
		if bal, err := NormalizeAmount(bm[1]); err == nil {
			result.BalanceAfter = &bal
		}
	}
	return result, nil
}

func parseSemicolonFormat(text string, tz *time.Location) (*models.ParsedReceipt, error) {
	cam := semicolonCardAmount.FindStringSubmatch(text)
	if cam == nil {
		return nil, errors.New(errors.ParseFailure, "semicolon: no card/amount match")
	}
	amount, err := NormalizeAmount(cam[3])
	if err != nil {
		return nil, err
	}

	dt := semicolonDateTime.FindStringSubmatch(text)
	if dt == nil {
		return nil, errors.New(errors.ParseFailure, "semicolon: no datetime match")
	}
	when, err := parseSemicolonDateTime(dt[1], dt[2], dt[3], dt[4], tz)
	if err != nil {
		return nil, err
	}

	txType := models.TransactionDebit
	switch cam[2] {
	case "oplata", "operacija":
		txType = models.TransactionDebit
	case "popolnenie":
		txType = models.TransactionCredit
	}

	result := &models.ParsedReceipt{
		Amount:            amount,
		Currency:          "UZS",
		CardLast4:         cam[1],
		TransactionType:   txType,
		TransactionDate:   when,
		ParsingMethod:      models.MethodRegexSemicolon,
		ParsingConfidence: 0.92,
	}
	if om := semicolonOperator.FindStringSubmatch(text); om != nil {
		result.OperatorRaw = strings.TrimSpace(om[1])
	}
	if bm := semicolonBalance.FindStringSubmatch(text); bm != nil {
		if bal, err := NormalizeAmount(bm[1]); err == nil {
			result.BalanceAfter = &bal
		}
	}
	return result, nil
}

func parseCardxabar(text string, tz *time.Location) (*models.ParsedReceipt, error) {
	am := cardxabarAmount.FindStringSubmatch(text)
	if am == nil {
		return nil, errors.New(errors.ParseFailure, "cardxabar: no amount match")
	}
	amount, err := NormalizeAmount(am[1])
	if err != nil {
		return nil, err
	}

	dt := cardxabarDateTime.FindStringSubmatch(text)
	if dt == nil {
		return nil, errors.New(errors.ParseFailure, "cardxabar: no datetime match")
	}
	when, err := parseDateTimeMatch(dt, tz, "dotted")
	if err != nil {
		return nil, err
	}

	upper := strings.ToUpper(text)
	txType := models.TransactionDebit
	switch {
	case strings.Contains(upper, "OTMENA"):
		txType = models.TransactionReversal
	case strings.Contains(upper, "КОНВЕРС"), strings.Contains(upper, "CONVERS"):
		txType = models.TransactionConversion
	case strings.Contains(text, "🟢"), strings.Contains(text, "➕"):
		txType = models.TransactionCredit
	}

	result := &models.ParsedReceipt{
		Amount:            amount,
		Currency:          am[2],
		TransactionType:   txType,
		TransactionDate:   when,
		ParsingMethod:      models.MethodRegexCardxabar,
		ParsingConfidence: 0.93,
	}
	if cm := cardxabarCard.FindStringSubmatch(text); cm != nil {
		result.CardLast4 = ExtractCardLast4(cm[1])
	}
	if om := cardxabarOperator.FindStringSubmatch(text); om != nil {
		result.OperatorRaw = strings.TrimSpace(om[1])
	}
	if bm := cardxabarBalance.FindStringSubmatch(text); bm != nil && bm[1] != "" {
		if bal, err := NormalizeAmount(bm[1]); err == nil {
			result.BalanceAfter = &bal
		}
	}
	return result, nil
}

// NormalizeAmount turns a locale-formatted amount string into a decimal,
// handling both "," and "." as thousands/decimal separators the way the
// source notifications mix them.
func NormalizeAmount(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(raw, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	switch {
	case hasDot && hasComma:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case hasComma:
		s = strings.ReplaceAll(s, ",", ".")
	}

	s = stripNonDigitDot(s)

	if strings.Count(s, ".") > 1 {
		lastDot := strings.LastIndex(s, ".")
		intPart := strings.ReplaceAll(s[:lastDot], ".", "")
		s = intPart + s[lastDot:]
	}

	if s == "" || s == "." {
		return decimal.Zero, errors.New(errors.ParseFailure, "empty amount after normalization")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New(errors.ParseFailure, fmt.Sprintf("invalid amount %q: %v", raw, err))
	}
	return d, nil
}

func stripNonDigitDot(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractCardLast4 tries a cascade of patterns to pull the last four digits
// out of a masked card string such as "479091**6905".
func ExtractCardLast4(text string) string {
	for _, p := range cardLast4Patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

func parseDateTimeMatch(m []string, tz *time.Location, _ string) (time.Time, error) {
	var timePart, datePart string
	if m[1] != "" {
		timePart, datePart = m[1], m[2]
	} else {
		datePart, timePart = m[3], m[4]
	}
	return parseDateTimeSimple(datePart, timePart, tz)
}

func parseDateTimeSimple(dateStr, timeStr string, tz *time.Location) (time.Time, error) {
	parts := strings.Split(dateStr, ".")
	if len(parts) != 3 {
		return time.Time{}, errors.New(errors.ParseFailure, "malformed date "+dateStr)
	}
	year := parts[2]
	if len(year) == 2 {
		year = "20" + year
	}
	layout := "2006-01-02 15:04"
	value := fmt.Sprintf("%s-%s-%s %s", year, parts[1], parts[0], timeStr)
	t, err := time.ParseInLocation(layout, value, tz)
	if err != nil {
		return time.Time{}, errors.New(errors.ParseFailure, "unparseable datetime: "+value)
	}
	return t, nil
}

func parseSemicolonDateTime(yy, mm, dd, timeStr string, tz *time.Location) (time.Time, error) {
	layout := "2006-01-02 15:04"
	value := fmt.Sprintf("20%s-%s-%s %s", yy, mm, dd, timeStr)
	t, err := time.ParseInLocation(layout, value, tz)
	if err != nil {
		return time.Time{}, errors.New(errors.ParseFailure, "unparseable semicolon datetime: "+value)
	}
	return t, nil
}
