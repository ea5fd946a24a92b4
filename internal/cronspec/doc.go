// Package cronspec validates cron expressions and computes the next matching
// instant relative to a reference time.
//
// Two dialects are supported:
//   - quartz: "sec min hour dom month dow [year]" with ?, L, W and #.
//     Day-of-week values are 1-7 with 1 = Sunday. Backed by hashicorp/cronexpr.
//   - standard: crontab "min hour dom month dow" with an optional leading
//     seconds field and descriptors (@daily, @every 5m). Backed by robfig/cron.
//
// A handle reports "no next instant" when the expression can never match
// again (for example a fixed year that has passed).
package cronspec
