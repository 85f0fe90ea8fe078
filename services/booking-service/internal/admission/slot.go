package admission

import "time"

// HourStart truncates t down to the start of its UTC hour and returns it in
// t's location. The same instant yields the same hour start whatever the
// offset, including across DST transitions. Applying it twice is the same as
// applying it once.
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).In(t.Location())
}

// AppointmentsCachePrefix is the key namespace of every cached view of a
// user's appointment list.
func AppointmentsCachePrefix(userID string) string {
	return "user:" + userID + ":appointments"
}
