package schema

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"efile/internal/document"
)

var (
	amountPattern   = regexp.MustCompile(`^-?\d{1,15}\.\d{2}$`)
	integerPattern  = regexp.MustCompile(`^\d{1,9}$`)
	yearPattern     = regexp.MustCompile(`^\d{4}$`)
	ninePattern     = regexp.MustCompile(`^\d{9}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	ratePattern     = regexp.MustCompile(`^\d{1,3}\.\d{1,6}$`)
)

const maxStringLen = 1000

// typeCheckers return a message describing why value is not of the type, or "".
var typeCheckers = map[ElementType]func(value string) string{
	TypeString: func(v string) string {
		switch {
		case strings.TrimSpace(v) == "":
			return "must not be blank"
		case len(v) > maxStringLen:
			return fmt.Sprintf("exceeds %d characters", maxStringLen)
		}
		return ""
	},
	TypeAmount:   matches(amountPattern, "an amount with two decimal places"),
	TypeInteger:  matches(integerPattern, "a non-negative integer"),
	TypeYear:     matches(yearPattern, "a four digit year"),
	TypeSSN:      matches(ninePattern, "a nine digit SSN"),
	TypeEIN:      matches(ninePattern, "a nine digit EIN"),
	TypeCurrency: matches(currencyPattern, "a three letter currency code"),
	TypeRate:     matches(ratePattern, "a decimal rate"),
	TypeBoolean: func(v string) string {
		if v != "X" {
			return `must be "X"`
		}
		return ""
	},
	TypeEnum: func(string) string { return "" },
	TypeDate: func(v string) string {
		if _, err := time.Parse(document.DateLayout, v); err != nil {
			return "must be a date (YYYY-MM-DD)"
		}
		return ""
	},
	TypeTimestamp: func(v string) string {
		if _, err := time.Parse(document.TimestampLayout, v); err != nil {
			return "must be an RFC 3339 timestamp"
		}
		return ""
	},
}

func matches(re *regexp.Regexp, what string) func(string) string {
	return func(v string) string {
		if !re.MatchString(v) {
			return "must be " + what
		}
		return ""
	}
}

// checkValue validates a leaf value against its element definition.
func checkValue(e *Element, value string) string {
	if msg := typeCheckers[e.Type](value); msg != "" {
		return msg
	}
	if len(e.Enum) > 0 && !slices.Contains(e.Enum, value) {
		return fmt.Sprintf("must be one of %s", strings.Join(e.Enum, ", "))
	}
	if e.pattern != nil && !e.pattern.MatchString(value) {
		return fmt.Sprintf("does not match pattern %s", e.Pattern)
	}
	return ""
}
