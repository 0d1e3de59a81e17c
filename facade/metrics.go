/*
Copyright (c) Quadrosync Project Authors.

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

package facade

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns an http.Handler serving this node's live state as
// Prometheus gauges, pulled directly from the façade on every scrape
// rather than pushed from the protocol task, the way
// ptp/sptp/stats.PrometheusExporter scrapes sptp's own counters endpoint
// except here there's no intermediate counters snapshot to fetch.
func (f *Facade) MetricsHandler() http.Handler {
	registry := prometheus.NewRegistry()

	boolGauge := func(name, help string, fn func() bool) {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 {
				if fn() {
					return 1
				}
				return 0
			},
		))
	}
	gauge := func(name, help string, fn func() float64) {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help}, fn,
		))
	}

	boolGauge("quadrosync_is_master", "1 if this node currently holds leadership", f.IsMaster)
	boolGauge("quadrosync_synchronized", "1 if the clock PLL has locked onto the leader", f.IsSynchronized)
	gauge("quadrosync_election_term", "current election term", func() float64 { return float64(f.election.Term()) })
	gauge("quadrosync_synced_frame_number", "current frame-sync frame counter", func() float64 { return float64(f.GetSyncedFrameNumber()) })
	gauge("quadrosync_estimated_error_micro", "estimated clock synchronization error in microseconds", f.GetEstimatedErrorMicro)
	gauge("quadrosync_peer_count", "number of peers currently tracked in the discovery registry", func() float64 { return float64(len(f.GetDiscoveredServers())) })

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
