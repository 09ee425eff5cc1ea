package poller

import "time"

var seoul = mustLoadSeoul()

func mustLoadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		// KST has no DST; a fixed offset is equivalent.
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// marketOpen reports whether t falls inside the Korean cash session,
// 09:00 to 15:45 KST on weekdays.
func marketOpen(t time.Time) bool {
	k := t.In(seoul)
	switch k.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := k.Hour()*60 + k.Minute()
	return minutes >= 9*60 && minutes <= 15*60+45
}
