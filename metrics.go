package flowz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowz_dropped_total",
		Help: "The number of elements discarded by a stage",
	}, []string{"stage"})

	patchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowz_patches_total",
		Help: "The number of sources patched into a patch panel",
	}, []string{"panel"})

	disconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowz_subscribers_disconnected_total",
		Help: "The number of broadcast subscribers disconnected for overflowing",
	}, []string{"stage"})
)
