package reporting

import (
	"time"

	"github.com/hako/durafmt"
)

// FormatUptime renders a duration as its two most significant units, for
// example "2 hours 5 minutes".
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}
