package transform

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/harborview-health/patient-etl/internal/dq"
)

// Conversion factors. 1 ft = 12 in.
const (
	cmPerInch = 2.54
	cmPerFoot = 12 * cmPerInch
	kgPerLb   = 0.45359237
)

// measurement is the typed result of one pattern matcher: a converted
// metric value plus the rule that produced it.
type measurement struct {
	value float64
	rule  string // "cm", "in", "ftin", "ft", "kg", "lb", "assumed-cm", "assumed-kg"
}

// matcher tries one recognized format and reports whether it applied.
// Matchers are pure; they never log. New formats are appended to the
// chain without touching existing ones.
type matcher func(s string) (measurement, bool)

var (
	numRe        = `([0-9]+(?:\.[0-9]+)?)`
	heightCMRe   = regexp.MustCompile(`(?i)^` + numRe + `\s*cm$`)
	heightInRe   = regexp.MustCompile(`(?i)^` + numRe + `\s*(?:in|inch|inches|")$`)
	heightFtInRe = regexp.MustCompile(`(?i)^` + numRe + `\s*(?:ft|feet|')\s*(?:` + numRe + `\s*(?:in|inch|inches|")?)?$`)
	bareNumRe    = regexp.MustCompile(`^` + numRe + `$`)
	weightRe     = regexp.MustCompile(`(?i)^` + numRe + `\s*(kg|kgs|lb|lbs)?$`)
)

// heightMatchers in priority order: explicit centimeters, explicit inches,
// feet+inches combined (which also covers bare decimal feet), then bare
// numeric assumed centimeters. The combined form outranks decimal feet by
// construction: both live in the same matcher, with inches optional.
var heightMatchers = []matcher{
	func(s string) (measurement, bool) {
		m := heightCMRe.FindStringSubmatch(s)
		if m == nil {
			return measurement{}, false
		}
		return measurement{value: mustFloat(m[1]), rule: "cm"}, true
	},
	func(s string) (measurement, bool) {
		m := heightInRe.FindStringSubmatch(s)
		if m == nil {
			return measurement{}, false
		}
		return measurement{value: mustFloat(m[1]) * cmPerInch, rule: "in"}, true
	},
	func(s string) (measurement, bool) {
		m := heightFtInRe.FindStringSubmatch(s)
		if m == nil {
			return measurement{}, false
		}
		ft := mustFloat(m[1])
		if m[2] == "" {
			return measurement{value: ft * cmPerFoot, rule: "ft"}, true
		}
		return measurement{value: ft*cmPerFoot + mustFloat(m[2])*cmPerInch, rule: "ftin"}, true
	},
	func(s string) (measurement, bool) {
		if !bareNumRe.MatchString(s) {
			return measurement{}, false
		}
		return measurement{value: mustFloat(s), rule: "assumed-cm"}, true
	},
}

var weightMatchers = []matcher{
	func(s string) (measurement, bool) {
		m := weightRe.FindStringSubmatch(s)
		if m == nil {
			return measurement{}, false
		}
		v := mustFloat(m[1])
		switch {
		case m[2] == "":
			return measurement{value: v, rule: "assumed-kg"}, true
		case m[2][0] == 'l' || m[2][0] == 'L':
			return measurement{value: v * kgPerLb, rule: "lb"}, true
		default:
			return measurement{value: v, rule: "kg"}, true
		}
	},
}

// UnitConverter parses height and weight strings in mixed units, converts
// them to centimeters/kilograms, and applies the plausibility gate.
// Unitless numerics are assumed to already be metric, and that assumption
// is logged on every occurrence so the dashboard can quantify it.
type UnitConverter struct {
	rules *Context
	log   *dq.Log
}

// NewUnitConverter creates a converter writing to the given quality log.
func NewUnitConverter(rules *Context, log *dq.Log) *UnitConverter {
	return &UnitConverter{rules: rules, log: log}
}

// Height converts a sanitized height value to centimeters, rounded to two
// decimals. Returns nil for missing input (no log), unparseable input
// (logged), or an implausible converted value (logged).
func (u *UnitConverter) Height(fileName, rowID string, raw *string) *float64 {
	return u.convert(fileName, rowID, "height", raw, heightMatchers, u.rules.HeightBounds, "cm")
}

// Weight converts a sanitized weight value to kilograms, rounded to two
// decimals, under the same rules as Height.
func (u *UnitConverter) Weight(fileName, rowID string, raw *string) *float64 {
	return u.convert(fileName, rowID, "weight", raw, weightMatchers, u.rules.WeightBounds, "kg")
}

func (u *UnitConverter) convert(fileName, rowID, col string, raw *string, chain []matcher, bounds Bounds, target string) *float64 {
	if raw == nil {
		return nil
	}
	s := *raw

	var m measurement
	matched := false
	for _, try := range chain {
		if m, matched = try(s); matched {
			break
		}
	}
	if !matched {
		u.log.Record(fileName, rowID, col, s, fmt.Sprintf("unrecognized %s format; set NULL", col))
		return nil
	}

	v := round2(m.value)

	if !bounds.Contains(v) {
		u.log.Record(fileName, rowID, col, s,
			fmt.Sprintf("implausible %s %v %s (allowed %v-%v); set NULL", col, v, target, bounds.Min, bounds.Max))
		return nil
	}

	switch m.rule {
	case "cm", "kg":
		// Already in the target unit with an explicit marker; nothing to audit.
	case "assumed-cm", "assumed-kg":
		u.log.Record(fileName, rowID, col, s,
			fmt.Sprintf("assumed %s for unitless value; kept as %v %s", targetUnitName(target), v, target))
	default:
		u.log.Record(fileName, rowID, col, s,
			fmt.Sprintf("converted %s %s→%s: %s → %v", col, m.rule, target, s, v))
	}

	return &v
}

func targetUnitName(target string) string {
	if target == "cm" {
		return "centimeters"
	}
	return "kilograms"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// mustFloat parses a numeric submatch already vetted by the regexp.
func mustFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
