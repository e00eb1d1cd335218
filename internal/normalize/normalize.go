// Package normalize cleans mapped field values into canonical formats:
// dates, currency, addresses, postcodes, and bounded numerics.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// states are the Australian state abbreviations.
var states = map[string]bool{
	"NSW": true, "VIC": true, "QLD": true, "SA": true,
	"WA": true, "TAS": true, "NT": true, "ACT": true,
}

var stateNames = map[string]string{
	"NEW SOUTH WALES":              "NSW",
	"VICTORIA":                     "VIC",
	"QUEENSLAND":                   "QLD",
	"SOUTH AUSTRALIA":              "SA",
	"WESTERN AUSTRALIA":            "WA",
	"TASMANIA":                     "TAS",
	"NORTHERN TERRITORY":           "NT",
	"AUSTRALIAN CAPITAL TERRITORY": "ACT",
}

// dateFormats are the layouts Australian council portals commonly emit.
var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"02 January 2006",
	"2006/01/02",
	"02.01.2006",
	"2 Jan, 2006",
	"January 2, 2006",
	time.RFC3339,
}

var (
	dmyPattern      = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	ymdPattern      = regexp.MustCompile(`(\d{4})[/-](\d{1,2})[/-](\d{1,2})`)
	postcodePattern = regexp.MustCompile(`\b(\d{4})\b`)
	trailingPC      = regexp.MustCompile(`\b(\d{4})\s*$`)
	firstNumber     = regexp.MustCompile(`(\d+)`)
	nonNumeric      = regexp.MustCompile(`[^\d.]`)
	daPrefix        = regexp.MustCompile(`(?i)^\s*(DA|CDC|CC|MOD|REV)\s*[-:]?\s*`)
	multiDot        = regexp.MustCompile(`\.{2,}`)
	multiDash       = regexp.MustCompile(`-{2,}`)
)

// Date parses the value into a UTC date. Returns nil when no layout matches.
func Date(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}

	// Extract a date embedded in a longer string.
	if m := ymdPattern.FindStringSubmatch(value); m != nil {
		if d := buildDate(m[1], m[2], m[3]); d != nil {
			return d
		}
	}
	if m := dmyPattern.FindStringSubmatch(value); m != nil {
		if d := buildDate(m[3], m[2], m[1]); d != nil {
			return d
		}
	}
	return nil
}

func buildDate(y, mo, d string) *time.Time {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(mo)
	day, _ := strconv.Atoi(d)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

// Currency parses dollar values like "$1,500,000", "1.5M", "250k".
// Values outside [0, $10B] are rejected as scrape noise.
func Currency(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
	cleaned = strings.TrimPrefix(strings.ToUpper(cleaned), "AUD")

	multiplier := 1.0
	switch {
	case strings.HasSuffix(cleaned, "K"):
		multiplier = 1_000
		cleaned = strings.TrimSuffix(cleaned, "K")
	case strings.HasSuffix(cleaned, "M"):
		multiplier = 1_000_000
		cleaned = strings.TrimSuffix(cleaned, "M")
	case strings.HasSuffix(cleaned, "B"):
		multiplier = 1_000_000_000
		cleaned = strings.TrimSuffix(cleaned, "B")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	result := f * multiplier
	if result < 0 || result > 10_000_000_000 {
		return nil
	}
	return &result
}

// AddressParts holds the components split out of a full address string.
type AddressParts struct {
	FullAddress   string
	StreetAddress string
	Suburb        string
	State         string
	Postcode      string
}

// Address parses an Australian address into its components. The postcode is
// expected at the end, the state before it, and the suburb as the last
// comma-separated part.
func Address(addr string) AddressParts {
	result := AddressParts{FullAddress: strings.TrimSpace(addr)}
	if result.FullAddress == "" {
		return result
	}
	rest := result.FullAddress

	if m := trailingPC.FindStringSubmatchIndex(rest); m != nil {
		result.Postcode = rest[m[2]:m[3]]
		rest = strings.TrimSpace(rest[:m[0]])
	}

	for st := range states {
		re := regexp.MustCompile(`(?i)\b` + st + `\b`)
		if re.MatchString(rest) {
			result.State = st
			rest = strings.TrimSpace(re.ReplaceAllString(rest, ""))
			break
		}
	}
	rest = strings.TrimSpace(strings.TrimSuffix(rest, ","))

	parts := strings.Split(rest, ",")
	if len(parts) >= 2 {
		result.Suburb = titleCase(strings.TrimSpace(parts[len(parts)-1]))
		result.StreetAddress = strings.TrimSpace(strings.Join(parts[:len(parts)-1], ","))
	} else {
		result.StreetAddress = rest
	}
	return result
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Postcode validates and zero-pads an Australian postcode.
func Postcode(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	m := postcodePattern.FindStringSubmatch(value)
	if m == nil {
		return ""
	}
	pc, err := strconv.Atoi(m[1])
	if err != nil || pc < 200 || pc > 9999 {
		return ""
	}
	return m[1]
}

// State normalizes a state name or abbreviation to its abbreviation.
func State(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if states[value] {
		return value
	}
	return stateNames[value]
}

// DANumber strips common application-number prefixes and collapses
// whitespace, keeping the core reference.
func DANumber(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = daPrefix.ReplaceAllString(value, "")
	return strings.Join(strings.Fields(value), " ")
}

// Description collapses whitespace, trims repeated punctuation, and
// capitalizes the first letter.
func Description(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	value = multiDot.ReplaceAllString(value, ".")
	value = multiDash.ReplaceAllString(value, "-")
	if value == "" {
		return ""
	}
	return strings.ToUpper(value[:1]) + value[1:]
}

// Integer extracts the first integer from the value, bounded to [min, max].
func Integer(value string, min, max int) *int {
	m := firstNumber.FindStringSubmatch(value)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < min || n > max {
		return nil
	}
	return &n
}

// Float extracts a non-negative float from the value.
func Float(value string) *float64 {
	cleaned := nonNumeric.ReplaceAllString(value, "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
}
