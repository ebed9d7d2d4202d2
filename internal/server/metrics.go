package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_uploads_total",
		Help: "Document uploads by outcome (accepted, throttled, too_large, rejected).",
	}, []string{"outcome"})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_queries_total",
		Help: "Retrieve requests by outcome.",
	}, []string{"outcome"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_artifact_cache_hits_total",
		Help: "Artifact loads served from the process-local cache.",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_artifact_cache_misses_total",
		Help: "Artifact loads that had to deserialize from the store.",
	})
)
