package constants

import "strings"

// Plan is the billing plan attached to a user.
type Plan string

const (
	PlanFree      Plan = "FREE"
	PlanPro       Plan = "PRO"
	PlanUnlimited Plan = "UNLIMITED"
)

// MonthlyRecordLimit is the number of new records a plan may persist per
// calendar month. A negative value means no limit.
func MonthlyRecordLimit(p Plan) int {
	switch p {
	case PlanPro:
		return 500
	case PlanUnlimited:
		return -1
	default:
		return 50
	}
}

// ParsePlan canonicalizes a raw plan string, falling back to FREE.
func ParsePlan(s string) Plan {
	switch Plan(strings.ToUpper(strings.TrimSpace(s))) {
	case PlanPro:
		return PlanPro
	case PlanUnlimited:
		return PlanUnlimited
	default:
		return PlanFree
	}
}
