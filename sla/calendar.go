package sla

import (
	"time"

	"github.com/taskweave/taskweave/core"
)

// Calendar is the tenant configuration collaborator providing the
// working-hours schedule. The monitor only ever asks how much of an interval
// counts toward a task's active time; storage and branding of tenant
// configuration are out of scope.
type Calendar interface {
	// WorkingDuration returns the portion of [from, to] that counts toward
	// the SLA clock for the given tenant.
	WorkingDuration(tenant core.TenantID, from, to time.Time) time.Duration
}

type fullTimeCalendar struct{}

func (fullTimeCalendar) WorkingDuration(tenant core.TenantID, from, to time.Time) time.Duration {
	if to.Before(from) {
		return 0
	}

	return to.Sub(from)
}

// FullTime is a calendar where every hour is a working hour. Used when a
// tenant has no working-hours configuration.
func FullTime() Calendar {
	return fullTimeCalendar{}
}
