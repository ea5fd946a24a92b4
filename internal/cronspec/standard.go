package cronspec

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var standardParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type standardHandle struct {
	raw   string
	loc   *time.Location
	sched cron.Schedule
}

func parseStandard(raw, body string, loc *time.Location) (Handle, error) {
	sched, err := standardParser.Parse(body)
	if err != nil {
		return nil, err
	}
	return standardHandle{raw: strings.TrimSpace(raw), loc: loc, sched: sched}, nil
}

func (h standardHandle) Expression() string { return h.raw }
func (h standardHandle) Dialect() Dialect   { return Standard }

// NextInstant reports false when robfig/cron finds no match within its
// five-year search window.
func (h standardHandle) NextInstant(ref time.Time) (time.Time, bool) {
	next := h.sched.Next(in(ref, h.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (h standardHandle) TimeToNext(ref time.Time) (time.Duration, bool) {
	next, ok := h.NextInstant(ref)
	if !ok {
		return 0, false
	}
	return next.Sub(ref), true
}
