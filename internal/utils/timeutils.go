package utils

import "time"

// DateKey formats a time as the YYYYMMDD key used to scope report sequences.
func DateKey(t time.Time) string {
	return t.Format("20060102")
}

// UnixSeconds converts a time to the fractional-seconds representation stored
// alongside persisted reports.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
