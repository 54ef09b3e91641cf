/*
server.go - Routes and middleware

PURPOSE:
  Builds the chi router: the middleware chain, every billing route, a
  health probe and a small index page.

MIDDLEWARE (outermost first):
  1. RequestID:  Tags each request so logs can be correlated
  2. Logger:     Access log line per request
  3. Recoverer:  A handler panic becomes a 500
  4. CORS:       Browser access from the configured origins

ROUTES:
  /healthz              Liveness, pings the store when it can
  /api/rate-lines/*     Rate card maintenance and supersession
  /api/quotes           Price a service without posting
  /api/charges          Post a priced service to a customer
  /api/billing-runs     Price and post a batch of billable items
  /api/customers/*      Posted charges per customer
  /api/forecasts/*      Forecast lifecycle and CSV/PDF export
  /api/scenarios/*      Demo data loaders
  /api/reset            Wipe the store (demo environments)

Nothing here authenticates callers. Put the server behind a proxy that does.

SEE ALSO:
  - handlers.go, scenarios.go
  - cmd/server/main.go
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// pinger is implemented by stores with a connection to check.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires h into a chi router.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/rate-lines", func(r chi.Router) {
			r.Get("/", h.ListRateLines)
			r.Post("/", h.CreateRateLine)
			r.Get("/{id}", h.GetRateLine)
			r.Put("/{id}", h.UpdateRateLine)
			r.Post("/{id}/supersede", h.SupersedeRateLine)
		})

		r.Post("/quotes", h.Quote)
		r.Post("/charges", h.PostCharge)
		r.Post("/billing-runs", h.RunBilling)
		r.Get("/customers/{id}/charges", h.GetCustomerCharges)

		r.Route("/forecasts", func(r chi.Router) {
			r.Get("/", h.ListForecasts)
			r.Post("/", h.CreateForecast)
			r.Get("/{id}", h.GetForecast)
			r.Get("/{id}/export", h.ExportForecast)
			r.Post("/{id}/{action}", h.ApplyForecastAction)
		})

		r.Get("/scenarios", h.ListScenarios)
		r.Get("/scenarios/current", h.GetCurrentScenario)
		r.Post("/scenarios/load", h.LoadScenario)
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/", index)
	return r
}

// Health reports whether the server and its store are reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const indexPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Records Billing</title></head>
<body style="font-family: sans-serif; max-width: 720px; margin: 40px auto;">
<h1>Records Billing</h1>
<p>Rate resolution, charge posting and revenue forecasts.</p>
<ul>
<li><a href="/api/rate-lines">Rate lines</a></li>
<li><a href="/api/forecasts">Forecasts</a></li>
<li><a href="/api/scenarios">Demo scenarios</a></li>
<li><a href="/healthz">Health</a></li>
</ul>
</body>
</html>`

func index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}
