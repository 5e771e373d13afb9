package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// PriceHints are deterministic pre-detections of price phrases in the raw
// message. They are injected into the extraction prompt as a correctness
// backstop; the LLM output still wins the final word.
type PriceHints struct {
	Min *float64
	Max *float64
}

var (
	rePriceBetween = regexp.MustCompile(`(?i)entre\s+(\d+(?:[.,]\d+)?)\s+y\s+(\d+(?:[.,]\d+)?)`)
	rePriceMax     = regexp.MustCompile(`(?i)(?:por\s+)?(?:menos\s+de|por\s+debajo\s+de|como\s+m[áa]ximo|m[áa]ximo\s+de|hasta)\s+(\d+(?:[.,]\d+)?)`)
	rePriceMin     = regexp.MustCompile(`(?i)(?:m[áa]s\s+de|por\s+encima\s+de|al\s+menos|como\s+m[íi]nimo|m[íi]nimo\s+de|a\s+partir\s+de)\s+(\d+(?:[.,]\d+)?)`)

	reRelativePrice = regexp.MustCompile(`(?i)m[áa]s\s+barat|m[áa]s\s+car|m[áa]s\s+econ[óo]mic|(?:menos|m[áa]s)\s+de\s+\d|entre\s+\d`)
)

// DetectPricePhrases scans for "menos de X", "entre X y Y", "al menos X" and
// similar phrasings. "entre X y Y" wins over the single-bound patterns because
// those would otherwise also match its halves.
func DetectPricePhrases(message string) PriceHints {
	var hints PriceHints

	if m := rePriceBetween.FindStringSubmatch(message); m != nil {
		if low, ok := parseAmount(m[1]); ok {
			hints.Min = &low
		}
		if high, ok := parseAmount(m[2]); ok {
			hints.Max = &high
		}
		return hints
	}

	if m := rePriceMax.FindStringSubmatch(message); m != nil {
		if max, ok := parseAmount(m[1]); ok {
			hints.Max = &max
		}
	}

	if m := rePriceMin.FindStringSubmatch(message); m != nil {
		if min, ok := parseAmount(m[1]); ok {
			hints.Min = &min
		}
	}

	return hints
}

// HasRelativePricePhrase reports whether the message refers to price relative
// to earlier context ("más barato", "de menos de 15"), which marks it as a
// likely follow-up.
func HasRelativePricePhrase(message string) bool {
	return reRelativePrice.MatchString(message)
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(raw, ",", ".")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}
