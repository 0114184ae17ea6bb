package models

import "time"

type GroupKind string

const (
	GroupKindSource  GroupKind = "SOURCE"
	GroupKindProduct GroupKind = "PRODUCT"
)

// DateOnly truncates t to midnight UTC. Reference dates are compared at day
// granularity everywhere.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a reference date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
