package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	routeLogin     = "login"
	routeCallback  = "callback"
	routeLogout    = "logout"
	routeLanding   = "landing"
	routeProtected = "protected"
)

const (
	outcomeLogin          = "redirected_to_provider"
	outcomeNoCode         = "no_code"
	outcomeDeclined       = "declined"
	outcomeExchangeFailed = "exchange_failed"
	outcomeForbidden      = "forbidden"
	outcomeAuthorized     = "authorized"
	outcomeLogout         = "logged_out"
	outcomeForwarded      = "forwarded"
	outcomeLanding        = "landing"
	outcomeRedirected     = "redirected"
	outcomeUpstreamFailed = "upstream_failed"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zero_gate",
	Name:      "decisions_total",
	Help:      "Requests by gate route and the outcome decided for them.",
}, []string{"route", "outcome"})

func recordDecision(route, outcome string) {
	decisionsTotal.WithLabelValues(route, outcome).Inc()
}
