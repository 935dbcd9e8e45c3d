// Package quota limits how many new records a user may persist per calendar
// month, according to their plan.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/ledgermail/extractor/constants"
)

// MonthStart returns the first instant of now's calendar month in UTC; the
// store count since that instant seeds the enforcer.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Enforcer tracks the running monthly count against a plan limit. The check
// is deliberately soft: counts are seeded from the store at job start and
// advanced in memory, not atomically at the store level.
type Enforcer struct {
	mu    sync.Mutex
	limit int // negative means unlimited
	used  int
	plan  constants.Plan
}

// NewEnforcer seeds the enforcer with the records already persisted this
// month.
func NewEnforcer(plan constants.Plan, usedThisMonth int) *Enforcer {
	return &Enforcer{
		limit: constants.MonthlyRecordLimit(plan),
		used:  usedThisMonth,
		plan:  plan,
	}
}

// Reserve claims one insertion slot, checking and advancing the counter in a
// single critical section so concurrent callers cannot both take the last
// slot. Updates to existing records never consult the quota.
func (e *Enforcer) Reserve() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limit >= 0 && e.used >= e.limit {
		return false
	}
	e.used++
	return true
}

// Unreserve returns a reserved slot after the insertion failed.
func (e *Enforcer) Unreserve() {
	e.mu.Lock()
	if e.used > 0 {
		e.used--
	}
	e.mu.Unlock()
}

// Used returns the current counter value.
func (e *Enforcer) Used() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.used
}

// ExhaustedMessage is the human-readable failure reason written to the job
// when the limit is reached mid-run.
func (e *Enforcer) ExhaustedMessage() string {
	return fmt.Sprintf("monthly record quota reached (%d records on plan %s); upgrade the plan or retry next month",
		e.limit, e.plan)
}
