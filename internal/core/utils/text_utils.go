package utils

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

const DefaultCellLength = 60

// TruncateText shortens text to at most length runes, marking the cut with
// "...".
func TruncateText(text string, length int) string {
	if utf8.RuneCountInString(text) <= length {
		return text
	}
	runes := []rune(text)
	return string(runes[:length]) + "..."
}

// FormatCell renders a table value for display. Numbers use precision
// decimals when precision >= 0, otherwise the shortest exact form.
func FormatCell(value any, precision int) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return TruncateText(v, DefaultCellLength)
	case float64:
		return formatFloat(v, precision)
	case float32:
		return formatFloat(float64(v), precision)
	case int:
		return formatFloat(float64(v), precision)
	case int64:
		return formatFloat(float64(v), precision)
	case bool:
		return strconv.FormatBool(v)
	default:
		return TruncateText(fmt.Sprint(v), DefaultCellLength)
	}
}

func formatFloat(v float64, precision int) string {
	if precision < 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}
