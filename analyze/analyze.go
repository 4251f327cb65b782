package analyze

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tmercier/collecte/model"
)

// FieldAnalysis is the per-column report: one logical form field
// inferred from a header label and its sampled values.
type FieldAnalysis struct {
	Label        string   `json:"label"`
	Type         string   `json:"type"`
	Required     bool     `json:"required"`
	Options      []string `json:"options,omitempty"`
	SampleValues []string `json:"sampleValues"`
	FillRate     int      `json:"fillRate"`
}

const (
	maxOptions     = 20
	maxSamples     = 5
	requiredFill   = 80
	numberMajority = 0.8
	textMajority   = 0.7
	longTextMean   = 100
)

// Analyze produces one FieldAnalysis per non-empty header cell.
// Columns are scored independently, there is no cross-column
// reasoning.
func Analyze(g Grid) []FieldAnalysis {
	out := make([]FieldAnalysis, 0, len(g.Headers))
	for i, header := range g.Headers {
		if strings.TrimSpace(header) == "" {
			continue
		}
		out = append(out, analyzeColumn(header, g.Column(i)))
	}
	return out
}

// column is the precomputed view the classifier chain works on.
type column struct {
	header   string // lower-cased header
	rows     int    // total cells, empty included
	values   []string
	distinct []string // first-seen order
}

// classifiers are evaluated short-circuit in fixed order.
// Classification is order sensitive: a numeric-looking low-cardinality
// column is a choice field, not a number.
type classifier func(col column) (string, bool)

var chain = []classifier{
	byLabelKeyword,
	byEmptyColumn,
	byCardinality,
	byNumberMajority,
	byEmailMajority,
	byURLMajority,
	byDateMajority,
	byMeanLength,
}

func analyzeColumn(header string, cells []string) FieldAnalysis {
	col := column{
		header: strings.ToLower(header),
		rows:   len(cells),
	}
	seen := map[string]bool{}
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		col.values = append(col.values, c)
		if !seen[c] {
			seen[c] = true
			col.distinct = append(col.distinct, c)
		}
	}

	fieldType := model.FieldText
	for _, classify := range chain {
		if t, ok := classify(col); ok {
			fieldType = t
			break
		}
	}

	fa := FieldAnalysis{
		Label:    cleanLabel(header),
		Type:     fieldType,
		FillRate: fillRate(col),
	}
	fa.Required = strings.Contains(header, "*") || fa.FillRate > requiredFill

	switch fieldType {
	case model.FieldSelect, model.FieldRadio, model.FieldCheckbox:
		fa.Options = extractOptions(col.distinct)
	}

	fa.SampleValues = col.values
	if len(fa.SampleValues) > maxSamples {
		fa.SampleValues = fa.SampleValues[:maxSamples]
	}
	return fa
}

func cleanLabel(header string) string {
	return strings.TrimSpace(strings.ReplaceAll(header, "*", ""))
}

// extractOptions keeps the first-seen distinct values, capped at 20.
func extractOptions(distinct []string) []string {
	if len(distinct) > maxOptions {
		return distinct[:maxOptions]
	}
	return distinct
}

func fillRate(col column) int {
	if col.rows == 0 {
		return 0
	}
	return int(math.Round(float64(len(col.values)) / float64(col.rows) * 100))
}

// keyword sets for the label shortcut; matching is lower-cased
// substring containment, French and English tokens. Checked in fixed
// order, date/time combinations sit between url and file.
var (
	emailTokens = []string{"email", "e-mail", "mail", "courriel"}
	telTokens   = []string{"téléphone", "telephone", "phone", "portable", "mobile", "tel"}
	urlTokens   = []string{"url", "site", "lien", "link"}
	fileTokens  = []string{"fichier", "document", "file", "attachment", "pièce jointe"}
	imageTokens = []string{"image", "photo", "picture"}
	mapTokens   = []string{"adresse", "address", "localisation", "location", "lieu"}
)

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func byLabelKeyword(col column) (string, bool) {
	hasDate := strings.Contains(col.header, "date")
	hasTime := strings.Contains(col.header, "heure") || strings.Contains(col.header, "time")

	switch {
	case containsAny(col.header, emailTokens):
		return model.FieldEmail, true
	case containsAny(col.header, telTokens):
		return model.FieldTel, true
	case containsAny(col.header, urlTokens):
		return model.FieldURL, true
	case hasDate && hasTime:
		return model.FieldDatetime, true
	case hasDate:
		return model.FieldDate, true
	case hasTime:
		return model.FieldTime, true
	case containsAny(col.header, fileTokens):
		return model.FieldFile, true
	case containsAny(col.header, imageTokens):
		return model.FieldImage, true
	case containsAny(col.header, mapTokens):
		return model.FieldMap, true
	}
	return "", false
}

func byEmptyColumn(col column) (string, bool) {
	if len(col.values) == 0 {
		return model.FieldText, true
	}
	return "", false
}

var booleanWords = []string{"oui", "non", "yes", "no", "true", "false", "1", "0", "vrai", "faux"}

func isBooleanWord(v string) bool {
	v = strings.ToLower(v)
	for _, w := range booleanWords {
		if strings.Contains(v, w) {
			return true
		}
	}
	return false
}

func byCardinality(col column) (string, bool) {
	n := len(col.distinct)
	if n == 0 || n > 10 || col.rows <= 3*n {
		return "", false
	}

	switch {
	case n == 2 && isBooleanWord(col.distinct[0]) && isBooleanWord(col.distinct[1]):
		return model.FieldCheckbox, true
	case n <= 5:
		return model.FieldRadio, true
	default:
		return model.FieldSelect, true
	}
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	return err == nil
}

func byNumberMajority(col column) (string, bool) {
	n := 0
	for _, v := range col.values {
		if isNumber(v) {
			n++
		}
	}
	if float64(n) > numberMajority*float64(len(col.values)) {
		return model.FieldNumber, true
	}
	return "", false
}

var reEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func byEmailMajority(col column) (string, bool) {
	n := 0
	for _, v := range col.values {
		if reEmail.MatchString(v) {
			n++
		}
	}
	if float64(n) > textMajority*float64(len(col.values)) {
		return model.FieldEmail, true
	}
	return "", false
}

func byURLMajority(col column) (string, bool) {
	n := 0
	for _, v := range col.values {
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			n++
		}
	}
	if float64(n) > textMajority*float64(len(col.values)) {
		return model.FieldURL, true
	}
	return "", false
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
}

func isDate(v string) bool {
	if !strings.ContainsAny(v, "/-") {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func byDateMajority(col column) (string, bool) {
	n := 0
	for _, v := range col.values {
		if isDate(v) {
			n++
		}
	}
	if float64(n) > textMajority*float64(len(col.values)) {
		return model.FieldDate, true
	}
	return "", false
}

func byMeanLength(col column) (string, bool) {
	total := 0
	for _, v := range col.values {
		total += len(v)
	}
	if total > longTextMean*len(col.values) {
		return model.FieldTextarea, true
	}
	return "", false
}
