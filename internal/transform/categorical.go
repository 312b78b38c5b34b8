package transform

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/harborview-health/patient-etl/internal/dq"
)

// sexTokens is the fixed recognition table for sex codes. Anything not
// listed here normalizes to U. Data-driven by design: extending the
// accepted vocabulary means adding rows, not code.
var sexTokens = map[string]string{
	"m":       "M",
	"male":    "M",
	"f":       "F",
	"female":  "F",
	"u":       "U",
	"unknown": "U",
}

var wordCaser = cases.Title(language.Und)

// CategoricalNormalizer normalizes names, sex codes, and encounter types.
// It has no rejection path: every input maps to a value and no row is
// ever dropped here.
type CategoricalNormalizer struct {
	log *dq.Log
}

// NewCategoricalNormalizer creates a normalizer writing to the quality log.
func NewCategoricalNormalizer(log *dq.Log) *CategoricalNormalizer {
	return &CategoricalNormalizer{log: log}
}

// PersonName title-cases a sanitized name, treating hyphens and
// apostrophes as word boundaries so "o'brien-smith" becomes
// "O'Brien-Smith". Unicode-aware via x/text casing.
func (c *CategoricalNormalizer) PersonName(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := titleCase(*raw)
	return &v
}

// Sex maps recognized tokens to M/F and everything else to U. Missing
// input is expected and silent; a non-empty unrecognized value is logged.
func (c *CategoricalNormalizer) Sex(fileName, rowID string, raw *string) string {
	if raw == nil {
		return "U"
	}
	if v, ok := sexTokens[strings.ToLower(strings.TrimSpace(*raw))]; ok {
		return v
	}
	c.log.Record(fileName, rowID, "sex", *raw,
		fmt.Sprintf("unrecognized sex value %q; normalized to U", *raw))
	return "U"
}

// EncounterType uppercases and trims; there is no value-set restriction.
func (c *CategoricalNormalizer) EncounterType(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := strings.ToUpper(strings.TrimSpace(*raw))
	if v == "" {
		return nil
	}
	return &v
}

// titleCase applies per-word title casing with space, hyphen, and
// apostrophe as boundaries, preserving the separators themselves.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var word []rune
	flush := func() {
		if len(word) > 0 {
			b.WriteString(wordCaser.String(strings.ToLower(string(word))))
			word = word[:0]
		}
	}
	for _, r := range s {
		switch r {
		case ' ', '-', '\'':
			flush()
			b.WriteRune(r)
		default:
			word = append(word, r)
		}
	}
	flush()
	return b.String()
}
