package util

import (
	"fmt"
	"time"

	"github.com/hako/durafmt"
)

func FormatHashrate(hr float64) string {
	switch {
	case hr > 1e9:
		return fmt.Sprintf("%.2f GH/s", hr/1e9)
	case hr > 1e6:
		return fmt.Sprintf("%.2f MH/s", hr/1e6)
	case hr > 1e3:
		return fmt.Sprintf("%.2f kH/s", hr/1e3)
	default:
		return fmt.Sprintf("%.2f H/s", hr)
	}
}

// FormatUptime renders d to whole seconds, keeping the two largest units,
// e.g. "2 hours 5 minutes".
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		d = 0
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}

// AcceptRate is the accepted share of submissions as a percentage.
func AcceptRate(accepted, rejected uint64) float64 {
	total := accepted + rejected
	if total == 0 {
		return 0
	}
	return float64(accepted) / float64(total) * 100
}
