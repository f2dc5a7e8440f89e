package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Logins = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "tokengate", Name: "logins_total", Help: "Number of successful logins."},
	)
	RefreshRotations = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "tokengate", Name: "refresh_rotations_total", Help: "Number of successful refresh token rotations."},
	)
	RefreshRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tokengate", Name: "refresh_rejections_total", Help: "Number of rejected refresh attempts by reason."},
		[]string{"reason"},
	)
	FamiliesBurned = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "tokengate", Name: "families_burned_total", Help: "Number of token families invalidated on reuse or revoke."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(RefreshRotations)
	reg.MustRegister(RefreshRejections)
	reg.MustRegister(FamiliesBurned)
}
