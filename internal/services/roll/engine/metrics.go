package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_roll_outcomes_total",
	Help: "Roll requests by final outcome",
}, []string{"outcome"})

const (
	outcomeRolled      = "rolled"
	outcomeNoop        = "noop"
	outcomeComposeFail = "compose_failed"
)
