package web

import (
	"fmt"
	"time"
)

// formatDuration prints d using its two largest units: "42s", "3m 5s",
// "2h 10m", "2d 2h".
func formatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	case secs < 86400:
		return fmt.Sprintf("%dh %dm", secs/3600, secs%3600/60)
	}
	return fmt.Sprintf("%dd %dh", secs/86400, secs%86400/3600)
}

// formatTime prints a local wall-clock time, or "never".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("15:04:05")
}

// pct is num as a whole percentage of denom; zero when denom is zero.
func pct(num, denom int) int {
	if denom == 0 {
		return 0
	}
	return num * 100 / denom
}

// truncate limits s to n runes. The last three become "..." when n
// leaves room for them.
func truncate(s string, n int) string {
	runes := []rune(s)
	switch {
	case len(runes) <= n:
		return s
	case n <= 3:
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
