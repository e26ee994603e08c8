package aggregate

import "fmt"

// FormatDuration renders a millisecond duration the way the audit UI
// expects:
//
//	< 1s          "{ms}ms"
//	>= 1 day      "{d}d {h}h {m}m"
//	>= 1 hour     "{h}h {m}m {s}s"
//	>= 1 minute   "{m}m {s}s"
//	otherwise     "{s}s"
//
// Negative durations fall in the first row.
func FormatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours%24, minutes%60)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes%60, seconds%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
