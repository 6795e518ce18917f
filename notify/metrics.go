package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campusmart",
	Subsystem: "notify",
	Name:      "dropped_total",
	Help:      "Notifications dropped before delivery, by reason.",
}, []string{"reason"})
