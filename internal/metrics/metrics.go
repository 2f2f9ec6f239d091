// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus counters for sends, post-send tasks
// and API requests. A nil *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "legalmail"

// Registry owns the service collectors.
type Registry struct {
	registry *prometheus.Registry

	emailsTotal   *prometheus.CounterVec
	taskFailures  *prometheus.CounterVec
	sendDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	batchRowsSeen prometheus.Counter
}

// NewRegistry registers the service collectors plus Go runtime and
// process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		emailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Send attempts by outcome and error code.",
		}, []string{"outcome", "code"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_send_task_failures_total",
			Help:      "Best-effort post-send task failures.",
		}, []string{"task"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Wall time of a complete send-and-update call.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		batchRowsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_rows_total",
			Help:      "Spreadsheet rows read by batch sends.",
		}),
	}

	reg.MustRegister(
		r.emailsTotal,
		r.taskFailures,
		r.sendDuration,
		r.httpRequests,
		r.batchRowsSeen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// EmailSent counts a successful send.
func (r *Registry) EmailSent(d time.Duration) {
	if r == nil {
		return
	}
	r.emailsTotal.WithLabelValues("sent", "").Inc()
	r.sendDuration.Observe(d.Seconds())
}

// EmailFailed counts a failed send under its error code.
func (r *Registry) EmailFailed(code string, d time.Duration) {
	if r == nil {
		return
	}
	r.emailsTotal.WithLabelValues("failed", code).Inc()
	r.sendDuration.Observe(d.Seconds())
}

// TaskFailed counts a failed post-send task.
func (r *Registry) TaskFailed(task string) {
	if r == nil {
		return
	}
	r.taskFailures.WithLabelValues(task).Inc()
}

// HTTPRequest counts one API request.
func (r *Registry) HTTPRequest(method, route string, status int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// BatchRow counts a spreadsheet row read by a batch send.
func (r *Registry) BatchRow() {
	if r == nil {
		return
	}
	r.batchRowsSeen.Inc()
}
