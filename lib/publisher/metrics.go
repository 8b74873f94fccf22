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

package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	channelAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialqueue",
			Subsystem: "publisher",
			Name:      "channel_attempts_total",
			Help:      "Per-channel publish attempts by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	postOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socialqueue",
			Subsystem: "publisher",
			Name:      "post_outcomes_total",
			Help:      "Terminal post outcomes.",
		},
		[]string{"outcome"},
	)

	publishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "socialqueue",
			Subsystem: "publisher",
			Name:      "publish_duration_seconds",
			Help:      "Wall time of one publish job across all channels.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(channelAttempts, postOutcomes, publishDuration)
}
