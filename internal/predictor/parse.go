package predictor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// cuePricePattern matches a decimal shortly after a prediction cue
	// word, accepting either "." or "," as the decimal separator.
	cuePricePattern = regexp.MustCompile(`(?i)(?:predicted price|prediction|estimated).{1,10}?(?:is of|is|:)?\s*([0-9]+[.,][0-9]+)`)
	// anyNumberPattern is the last-resort fallback: the first
	// decimal-looking number anywhere in the text.
	anyNumberPattern = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)
	// leadingPunct strips the punctuation left over when the price clause
	// is removed from the start of a response.
	leadingPunct = regexp.MustCompile(`^\s*[.,:;]\s*`)
)

// extractPrediction pulls a numeric prediction and explanation out of a
// free-text model response. Best effort: oddly-formatted output yields
// ok=false and the remote stage is treated as failed.
func extractPrediction(text string) (price float64, explanation string, ok bool) {
	explanation = text

	match := cuePricePattern.FindStringSubmatchIndex(text)
	if match != nil {
		raw := text[match[2]:match[3]]
		if value, err := parseDecimal(raw); err == nil {
			// The response format puts the price clause first; when the
			// match sits near the start, the remainder is the
			// explanation proper.
			if match[0] < 50 {
				explanation = leadingPunct.ReplaceAllString(text[match[1]:], "")
			}
			return value, explanation, true
		}
	}

	loose := anyNumberPattern.FindString(text)
	if loose == "" {
		return 0, "", false
	}
	value, err := parseDecimal(loose)
	if err != nil {
		return 0, "", false
	}
	return value, explanation, true
}

func parseDecimal(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
}
