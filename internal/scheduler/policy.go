package scheduler

import (
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/robfig/cron/v3"
)

// ShouldExecuteNow reports whether s is due at now given its last recorded
// execution. last may be nil for a schedule that has never fired.
func ShouldExecuteNow(s domain.Schedule, last *domain.ScheduleExecution, now time.Time) bool {
	rep := s.Repetition
	if last == nil || !last.Started() {
		return rep.Qty != 0
	}
	if !rep.IsUnlimited() && last.ExecutionCount >= rep.Qty {
		return false
	}

	next, ok := nextEligible(rep, last.LastExecutionStart)
	if !ok {
		return false
	}
	return !now.Before(next)
}

// nextEligible returns the first instant after lastStart at which rep allows
// another execution.
func nextEligible(rep domain.Repetition, lastStart time.Time) (time.Time, bool) {
	switch rep.Type {
	case domain.RepetitionRelative:
		return lastStart.Add(rep.Duration), true
	case domain.RepetitionAbsolute:
		if rep.Duration == 0 {
			return lastStart, true
		}
		return alignAfter(lastStart, rep.Duration), true
	case domain.RepetitionCron:
		sched, err := cron.ParseStandard(rep.Expr)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(lastStart)
		return next, !next.IsZero()
	default:
		return time.Time{}, false
	}
}

// alignAfter returns the first multiple of d, counted from the Unix epoch,
// strictly after t.
func alignAfter(t time.Time, d time.Duration) time.Time {
	ns := t.UnixNano()
	step := int64(d)
	q := ns / step
	if ns < 0 && ns%step != 0 {
		q--
	}
	return time.Unix(0, (q+1)*step).In(t.Location())
}
