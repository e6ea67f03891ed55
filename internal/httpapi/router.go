package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jihwankim/irrig-core/internal/auth"
	"github.com/jihwankim/irrig-core/internal/server"
)

// NewRouter builds a chi.Router registering the exact URIs present in the
// I/O configuration in force at the time of the call (§4.13) plus the fixed
// routes. It is called once at startup; a later ReloadConfig does not add
// or remove point routes, so the registered URIs stay those of the startup
// configuration. Each route's minimum role matches the §6.1 table.
func NewRouter(ctx *server.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	route(r, ctx, "GET", "/api/io/points", handleListPoints, auth.RoleViewer, false)
	route(r, ctx, "GET", "/api/io/statistics", handleStatistics, auth.RoleViewer, false)

	cfg := ctx.IO.Config()
	for _, id := range cfg.SortedPointIds() {
		pointPath := "/api/io/points/" + string(id)
		setPath := pointPath + "/set"
		params := map[string]string{"id": string(id)}
		routeWithParams(r, ctx, "GET", pointPath, handleGetPoint, params, auth.RoleViewer, false)
		routeWithParams(r, ctx, "POST", setPath, handleSetPoint, params, auth.RoleManager, false)
	}

	route(r, ctx, "POST", "/api/auth/login", handleLogin, auth.RoleNone, false)
	route(r, ctx, "POST", "/api/auth/logout", handleLogout, auth.RoleViewer, false)
	route(r, ctx, "GET", "/api/auth/status", handleAuthStatus, auth.RoleNone, false)
	route(r, ctx, "GET", "/api/auth/validate", handleAuthValidate, auth.RoleNone, false)
	route(r, ctx, "GET", "/api/auth/stats", handleAuthStats, auth.RoleManager, false)

	route(r, ctx, "POST", "/api/emergency-stop", handleEmergencyStop, auth.RoleManager, true)

	reg := prometheus.NewRegistry()
	reg.MustRegister(ctx.Metrics)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

// route registers one exact-URI handler with no bound params, routing
// the request through submit's classify/admit/enqueue pipeline.
func route(r chi.Router, ctx *server.Context, method, pattern string, h Handler, minRole auth.Role, runInline bool) {
	routeWithParams(r, ctx, method, pattern, h, nil, minRole, runInline)
}

// routeWithParams registers one exact-URI handler, closing over a fixed
// params map (§4.13: exact-URI registration per configured point, no
// mid-URI wildcards — the point ID is baked into the route at
// registration time rather than captured from the path at request time).
func routeWithParams(r chi.Router, ctx *server.Context, method, pattern string, h Handler, params map[string]string, minRole auth.Role, runInline bool) {
	fn := func(w http.ResponseWriter, req *http.Request) {
		submit(ctx, w, req, params, h, minRole, runInline)
	}

	switch method {
	case "GET":
		r.Get(pattern, fn)
	case "POST":
		r.Post(pattern, fn)
	case "PUT":
		r.Put(pattern, fn)
	case "DELETE":
		r.Delete(pattern, fn)
	}
}
