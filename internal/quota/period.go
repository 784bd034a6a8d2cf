package quota

import "time"

// PeriodBounds returns the billing period containing now. Periods roll over
// on fixed monthly boundaries in UTC; usage does not carry over.
func PeriodBounds(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
