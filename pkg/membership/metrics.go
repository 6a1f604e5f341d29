package membership

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourceCache  = "cache"
	sourceRemote = "remote"
	sourceMiss   = "miss"
)

var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zero_gate",
	Name:      "membership_lookups_total",
	Help:      "Member directory lookups by the tier that answered them.",
}, []string{"source"})
