/*
Copyright 2025 TechApps UT

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "socialqueue",
			Subsystem: "scheduler",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one scheduler scan by scan kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"scan"},
	)

	postsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "socialqueue",
			Subsystem: "scheduler",
			Name:      "posts_claimed_total",
			Help:      "Due posts claimed and handed to the publishing queue.",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "socialqueue",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Work queue depth sampled after each due-post scan.",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(scanDuration, postsClaimed, queueDepth)
}

func observeScan(scan string, start time.Time) {
	scanDuration.WithLabelValues(scan).Observe(time.Since(start).Seconds())
}
