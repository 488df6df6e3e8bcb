// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registrations counts registration attempts by outcome.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_registrations_total",
		Help: "Registration attempts by outcome.",
	}, []string{"outcome"})

	// Verifications counts face verification attempts by outcome.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_verifications_total",
		Help: "Face verification attempts by outcome.",
	}, []string{"outcome"})

	// Marks counts attendance mark attempts by outcome.
	Marks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_marks_total",
		Help: "Attendance mark attempts by outcome.",
	}, []string{"outcome"})

	// SkippedRosterRows counts master roster rows dropped for malformed
	// face data during a scan.
	SkippedRosterRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_skipped_roster_rows_total",
		Help: "Master roster rows skipped for malformed face data.",
	})
)
