package tui

import (
	"fmt"
	"time"
)

// formatTimestamp renders message and store times the way the session panel
// shows them: weekday, date, 24h clock.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Mon 01/02 15:04")
}

// formatSimilarity prints a retrieval score with two decimals. Upstream
// does not guarantee scores stay inside [0,1], so no clamping.
func formatSimilarity(score float64) string {
	return fmt.Sprintf("%.2f", score)
}
