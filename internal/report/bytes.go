package report

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// HumanBytes formats n with binary units and one decimal: 512B, 1.5KB, 2.0GB.
func HumanBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	v := float64(n)
	for _, unit := range []string{"KB", "MB", "GB", "TB", "PB"} {
		v /= 1024
		if v < 1024 {
			return fmt.Sprintf("%.1f%s", v, unit)
		}
	}
	return fmt.Sprintf("%.1fEB", v/1024)
}

// GroupedBytes formats n with thousands separators: 1,234,567.
func GroupedBytes(n int64) string {
	return printer.Sprintf("%d", n)
}

// EstimateText renders an optional byte count as "1,234 (1.2KB)", or "-".
func EstimateText(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", GroupedBytes(*n), HumanBytes(*n))
}
