package analytics

import (
	"fmt"
	"strconv"
	"time"
)

// FormatDuration renders whole seconds as "Xm Ys", or "Ys" under a minute.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	minutes := seconds / 60
	rest := seconds % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, rest)
	}
	return fmt.Sprintf("%ds", rest)
}

// FormatTimeAgo renders an age in the largest whole unit: hours, minutes or
// seconds. Negative ages (clock skew) read as 0 seconds.
func FormatTimeAgo(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	seconds := int64(age / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return pluralAgo(hours, "hour")
	case minutes > 0:
		return pluralAgo(minutes, "minute")
	default:
		return pluralAgo(seconds, "second")
	}
}

func pluralAgo(n int64, unit string) string {
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

func formatPercent(p int) string {
	return strconv.Itoa(p) + "%"
}
