/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for collection clients

ROUTE GROUPS:
  /api/subjects/*     Taxable subjects, balances, levies, payments
  /api/collectors/*   Field agents and collection totals
  /api/tickets/*      Daily market fee tickets

SECURITY NOTE:
  No authentication middleware; the authorization guard only decides which
  collector may post where. Front the server with an authenticating proxy
  in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Subject routes
		r.Route("/subjects", func(r chi.Router) {
			r.Get("/", h.ListSubjects)
			r.Post("/", h.CreateSubject)
			r.Get("/{id}", h.GetSubject)
			r.Delete("/{id}", h.DeactivateSubject)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/levies", h.ListLevies)
			r.Put("/{id}/levies/{year}/amount", h.SetLevyAmount)
			r.Post("/{id}/payments", h.PostPayment)
		})

		// Collector routes
		r.Route("/collectors", func(r chi.Router) {
			r.Post("/", h.CreateCollector)
			r.Get("/{id}", h.GetCollector)
			r.Get("/{id}/totals", h.GetCollectorTotals)
		})

		// Ticket routes
		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", h.ListTickets)
			r.Post("/", h.PostTicket)
		})
	})

	return r
}
