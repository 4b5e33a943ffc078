package store

import "time"

// timeLayout is the on-disk timestamp format: RFC 3339 in UTC, sortable as a
// plain string, which both engines store as TEXT.
const timeLayout = time.RFC3339

// parseTime tolerates legacy or slightly malformed timestamps by falling
// back to the zero time rather than panicking; callers treat a zero PubDate
// the same way the feed renderer treats any other missing value.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2
		}
		return time.Time{}
	}
	return t
}
