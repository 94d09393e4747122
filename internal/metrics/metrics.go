// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts attendance sessions opened by faculty.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_sessions_created_total",
		Help: "Attendance sessions created.",
	})

	// SessionsExpired counts sessions transitioned to expired by the
	// cleanup sweeper.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_sessions_expired_total",
		Help: "Sessions marked expired by the background sweep.",
	})

	// SessionsDeleted counts sessions hard-deleted by the retention
	// sweep.
	SessionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_sessions_deleted_total",
		Help: "Sessions removed by the retention sweep.",
	})

	// AttendanceAccepted counts successful check-ins.
	AttendanceAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_attendance_accepted_total",
		Help: "Student check-ins accepted.",
	})

	// AttendanceRejected counts rejected check-ins by reason.
	AttendanceRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classattend_attendance_rejected_total",
		Help: "Student check-ins rejected, labeled by reason.",
	}, []string{"reason"})
)
