package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess       = "success"
	outcomeTextFallback  = "text_fallback"
	outcomeImageFallback = "image_fallback"
	outcomeConflict      = "version_conflict"
)

var turnOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyteller_turn_outcomes_total",
		Help: "Total number of story turns by outcome.",
	},
	[]string{"outcome"},
)
