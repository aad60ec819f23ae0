// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "render_cache",
		Name:      "hits_total",
		Help:      "Render cache lookups served from memory.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "render_cache",
		Name:      "misses_total",
		Help:      "Render cache lookups that required a render.",
	})
	rendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "render",
		Name:      "runs_total",
		Help:      "OpenSCAD invocations by kind.",
	}, []string{"kind"})
	renderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studio",
		Subsystem: "render",
		Name:      "failures_total",
		Help:      "OpenSCAD invocations that produced no artifact.",
	})
	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "studio",
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Wall time of OpenSCAD invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
