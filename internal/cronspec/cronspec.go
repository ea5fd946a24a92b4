package cronspec

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidExpression is returned (wrapped) when an expression fails syntactic validation.
var ErrInvalidExpression = errors.New("invalid cron expression")

// Dialect selects the cron syntax used to parse an expression.
type Dialect string

const (
	Quartz   Dialect = "quartz"
	Standard Dialect = "standard"
)

// ParseDialect maps a config value to a Dialect. Empty means Quartz.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quartz":
		return Quartz, nil
	case "standard", "cron", "crontab":
		return Standard, nil
	default:
		return "", fmt.Errorf("unknown cron dialect %q (use quartz or standard)", s)
	}
}

// Handle is a validated expression.
//
// TimeToNext and NextInstant are computed relative to ref; both report false
// when no further instant exists.
type Handle interface {
	Expression() string
	Dialect() Dialect
	TimeToNext(ref time.Time) (time.Duration, bool)
	NextInstant(ref time.Time) (time.Time, bool)
}

// Evaluator validates expressions. The zero value uses Quartz and time.Local.
type Evaluator struct {
	Location *time.Location
	Default  Dialect
}

func New(loc *time.Location, def Dialect) *Evaluator {
	return &Evaluator{Location: loc, Default: def}
}

// Validate parses expr and returns a Handle bound to the evaluator's location.
// It is pure: validating the same string twice yields equivalent handles.
func (e *Evaluator) Validate(expr string) (Handle, error) {
	def := Quartz
	loc := time.Local
	if e != nil {
		if e.Default != "" {
			def = e.Default
		}
		if e.Location != nil {
			loc = e.Location
		}
	}
	dialect, body, err := detect(expr, def)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	var h Handle
	switch dialect {
	case Quartz:
		h, err = parseQuartz(expr, body, loc)
	case Standard:
		h, err = parseStandard(expr, body, loc)
	default:
		err = fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	return h, nil
}

// NextN returns up to n upcoming instants after ref.
func NextN(h Handle, ref time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	for i := 0; i < n; i++ {
		next, ok := h.NextInstant(ref)
		if !ok {
			break
		}
		out = append(out, next)
		ref = next
	}
	return out
}

// detect strips an explicit dialect prefix or guesses the dialect from the
// field count.
//
// Supported forms:
//   - "quartz:0 0 12 * * ?" forces quartz
//   - "cron:*/5 * * * *" or "standard:..." forces standard
//   - "@daily", "@every 5m" => standard
//   - 7 fields => quartz, 5 fields => standard
//   - anything else, 6 fields included, => def
func detect(raw string, def Dialect) (Dialect, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", errors.New("expression required")
	}
	low := strings.ToLower(s)
	for _, p := range []struct {
		prefix  string
		dialect Dialect
	}{
		{"quartz:", Quartz},
		{"cron:", Standard},
		{"standard:", Standard},
	} {
		if strings.HasPrefix(low, p.prefix) {
			body := strings.TrimSpace(s[len(p.prefix):])
			if body == "" {
				return "", "", fmt.Errorf("expression required after %q", p.prefix)
			}
			return p.dialect, body, nil
		}
	}
	if strings.HasPrefix(s, "@") {
		return Standard, s, nil
	}
	switch len(strings.Fields(s)) {
	case 7:
		return Quartz, s, nil
	case 5:
		return Standard, s, nil
	}
	return def, s, nil
}

// in converts ref to loc so calendar fields are matched in the configured timezone.
func in(ref time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return ref
	}
	return ref.In(loc)
}
