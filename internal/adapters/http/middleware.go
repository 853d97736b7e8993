package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
)

// Handler is the full HTTP stack: the router behind CORS for the
// configured origins.
func Handler(cfg *config.Config, hub *app.Hub, gatherer prometheus.Gatherer) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(SetupRouter(cfg, hub, gatherer))
}
