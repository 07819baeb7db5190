package api

import (
	"net/http"
	"time"

	apimw "github.com/mealex/peerdir/internal/api/middleware"
	"github.com/mealex/peerdir/internal/auth"
	"github.com/mealex/peerdir/internal/ratelimit"
	"github.com/mealex/peerdir/pkg/health"
	pkgmetrics "github.com/mealex/peerdir/pkg/metrics"
	pkgmw "github.com/mealex/peerdir/pkg/middleware"
)

// NewRouter builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET    /health                                      → service health
//	GET    /health/live                                 → liveness probe
//	GET    /health/ready                                → readiness probe
//	GET    /api/metrics                                 → app metrics snapshot
//	GET    /api/profiles                                → list all profiles
//	GET    /api/profiles/search                         → filtered search
//	GET    /api/profiles/{id}                           → single profile
//	PUT    /api/profiles/{id}                           → update own profile
//	GET    /api/invitations/incoming/{userId}           → received invitations
//	GET    /api/invitations/outgoing/{userId}           → sent invitations
//	POST   /api/invitations                             → send invitation
//	PATCH  /api/invitations/{userId}/{invitationId}     → accept/reject
//	DELETE /api/invitations/{userId}/{invitationId}     → delete invitation
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Observe → Timeout → RateLimit → Auth → mux
//
// RateLimit runs before Auth so that rejected requests never cost a token
// verification. Health probes bypass both.
func NewRouter(
	h *Handler,
	checker *health.Checker,
	limiter *ratelimit.Limiter,
	tokens *auth.TokenCache,
	prom *pkgmetrics.Metrics,
	requestTimeout time.Duration,
) http.Handler {
	mux := http.NewServeMux()

	// Health (unauthenticated)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Metrics API
	mux.HandleFunc("GET /api/metrics", h.Metrics)

	// Profile API
	mux.HandleFunc("GET /api/profiles", h.ListProfiles)
	mux.HandleFunc("GET /api/profiles/search", h.SearchProfiles)
	mux.HandleFunc("GET /api/profiles/{id}", h.GetProfile)
	mux.HandleFunc("PUT /api/profiles/{id}", h.UpdateProfile)

	// Invitation API
	mux.HandleFunc("GET /api/invitations/incoming/{userId}", h.IncomingInvitations)
	mux.HandleFunc("GET /api/invitations/outgoing/{userId}", h.OutgoingInvitations)
	mux.HandleFunc("POST /api/invitations", h.CreateInvitation)
	mux.HandleFunc("PATCH /api/invitations/{userId}/{invitationId}", h.UpdateInvitationStatus)
	mux.HandleFunc("DELETE /api/invitations/{userId}/{invitationId}", h.DeleteInvitation)

	// Middleware chain — applied inside-out:
	// request → RequestID → CORS → Metrics → Observe → Timeout → RateLimit → Auth → mux
	var chain http.Handler = mux
	chain = apimw.Auth(tokens)(chain)
	chain = apimw.RateLimit(limiter, prom)(chain)
	chain = pkgmw.Timeout(requestTimeout)(chain)
	chain = apimw.Observe(h.collector)(chain)
	chain = pkgmw.Metrics(prom)(chain)
	chain = apimw.CORS(apimw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
