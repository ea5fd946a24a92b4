package cronspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"
)

// lastOffsetScanLimit bounds the search for an "L-n" day; each step moves at
// least to the next candidate day, and the year field ends at 2099.
const lastOffsetScanLimit = 4096

type quartzHandle struct {
	raw  string
	loc  *time.Location
	expr *cronexpr.Expression

	// lastOffset is n for a day-of-month of "L-n", or -1.
	lastOffset int
}

func parseQuartz(raw, body string, loc *time.Location) (Handle, error) {
	line, offset, err := normalizeQuartz(body)
	if err != nil {
		return nil, err
	}
	expr, err := cronexpr.Parse(line)
	if err != nil {
		return nil, err
	}
	return quartzHandle{raw: strings.TrimSpace(raw), loc: loc, expr: expr, lastOffset: offset}, nil
}

func (h quartzHandle) Expression() string { return h.raw }
func (h quartzHandle) Dialect() Dialect   { return Quartz }

func (h quartzHandle) NextInstant(ref time.Time) (time.Time, bool) {
	if h.lastOffset >= 0 {
		return h.nextLastOffset(in(ref, h.loc))
	}
	next := h.expr.Next(in(ref, h.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// nextLastOffset evaluates "L-n" on top of an expression whose day-of-month
// is "*": candidates before the target day jump to it, later ones jump to
// the next month.
func (h quartzHandle) nextLastOffset(from time.Time) (time.Time, bool) {
	for i := 0; i < lastOffsetScanLimit; i++ {
		next := h.expr.Next(from)
		if next.IsZero() {
			return time.Time{}, false
		}
		y, m, d := next.Date()
		loc := next.Location()
		target := daysIn(y, m) - h.lastOffset
		switch {
		case d == target:
			return next, true
		case d < target:
			from = time.Date(y, m, target, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
		default:
			from = time.Date(y, m+1, 1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
		}
	}
	return time.Time{}, false
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (h quartzHandle) TimeToNext(ref time.Time) (time.Duration, bool) {
	next, ok := h.NextInstant(ref)
	if !ok {
		return 0, false
	}
	return next.Sub(ref), true
}

// normalizeQuartz rewrites a Quartz line into the 7-field form cronexpr
// expects: an explicit year field and 0-based day-of-week numbers. A bare
// "L" day-of-week is Saturday. A day-of-month of "L-n" is returned as the
// offset n with the field widened to "*"; otherwise the offset is -1.
// Exactly one of day-of-month / day-of-week must be '?'.
func normalizeQuartz(body string) (string, int, error) {
	f := strings.Fields(body)
	if len(f) != 6 && len(f) != 7 {
		return "", -1, fmt.Errorf("quartz: expected 6 or 7 fields, got %d", len(f))
	}
	dom, dow := f[3], f[5]
	if (dom == "?") == (dow == "?") {
		return "", -1, fmt.Errorf("quartz: exactly one of day-of-month (%q) and day-of-week (%q) must be '?'", dom, dow)
	}
	offset, err := lastDayOffset(dom)
	if err != nil {
		return "", -1, err
	}
	if offset >= 0 {
		f[3] = "*"
	}
	if strings.EqualFold(dow, "L") {
		f[5] = "6"
	} else {
		shifted, err := shiftWeekdays(dow)
		if err != nil {
			return "", -1, err
		}
		f[5] = shifted
	}
	if len(f) == 6 {
		f = append(f, "*")
	}
	return strings.Join(f, " "), offset, nil
}

// lastDayOffset parses "L-n" (n in 0-30). Other fields report -1.
func lastDayOffset(dom string) (int, error) {
	rest, ok := strings.CutPrefix(strings.ToUpper(dom), "L-")
	if !ok {
		return -1, nil
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || n > 30 {
		return -1, fmt.Errorf("quartz: day-of-month %q: offset from last day must be 0-30", dom)
	}
	return n, nil
}

// shiftWeekdays maps Quartz day-of-week numbers (1 = Sunday .. 7 = Saturday)
// to 0-based numbers. Step values ("/2") and nth-day values ("#3") are kept.
func shiftWeekdays(field string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(field); {
		c := field[i]
		if c < '0' || c > '9' {
			b.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(field) && field[j] >= '0' && field[j] <= '9' {
			j++
		}
		num := field[i:j]
		if i > 0 && (field[i-1] == '/' || field[i-1] == '#') {
			b.WriteString(num)
			i = j
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 || n > 7 {
			return "", fmt.Errorf("quartz: day-of-week %q out of range 1-7", num)
		}
		b.WriteString(strconv.Itoa(n - 1))
		i = j
	}
	return b.String(), nil
}
