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

// Package api exposes the build and send operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bcem/legalmail/internal/metrics"
)

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(instrument(h.metrics))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/emails/build", h.BuildEmail)
		r.Post("/emails/send", h.SendEmail)
		if h.events != nil {
			r.Get("/audit/events", h.ListEvents)
		}
		if h.usage != nil {
			r.Get("/usage", h.Usage)
		}
	})

	return r
}

// instrument counts requests by route pattern so path parameters do not
// explode label cardinality.
func instrument(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reg.HTTPRequest(r.Method, route, status)
		})
	}
}
