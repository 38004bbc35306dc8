package service

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// EstimateWait assumes admissions happen in batches of concurrentUsers, each
// taking avgProcessing. fallback is used until there is history to average.
func EstimateWait(position, concurrentUsers int, avgProcessing, fallback time.Duration) time.Duration {
	if position <= 0 || concurrentUsers <= 0 {
		return 0
	}
	per := avgProcessing
	if per <= 0 {
		per = fallback
	}
	batches := (position + concurrentUsers - 1) / concurrentUsers
	return time.Duration(batches) * per
}

func FormatWait(d time.Duration) string {
	switch {
	case d <= 0:
		return "any moment now"
	case d < time.Minute:
		return "less than a minute"
	}
	now := time.Now()
	return "about " + strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}
