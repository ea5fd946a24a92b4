// Package scheduler drives self-rescheduling cron chains on the task engine.
//
// Each chain computes its next fire time relative to an anchored reference
// instant and arms two delayed tasks with the same delay:
//   - the command itself
//   - a continuation that repeats the cycle with the computed instant as the
//     new reference
//
// The reference never drifts with pool latency. When the active expression
// has no further match, the chain switches once to its fallback expression
// (same reference); if there is none, or the fallback is the one that failed,
// the chain terminates with ErrScheduleExhausted.
package scheduler
