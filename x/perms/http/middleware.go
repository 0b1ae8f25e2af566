package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/builder-gate/server/api"
	"github.com/compose-network/builder-gate/server/api/middleware"
	"github.com/compose-network/builder-gate/x/perms"
)

// DefaultIdentityHeader carries the sub claim of the builder's JWT, set by the
// authenticating proxy in front of this service.
const DefaultIdentityHeader = "X-Jwt-Claim-Sub"

type decisionKey struct{}

// DecisionFromContext returns the authorization decision attached to a
// permitted request.
func DecisionFromContext(ctx context.Context) (perms.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(perms.Decision)
	return d, ok
}

// Gate is the builder permissioning middleware. It is stateless after
// construction and safe to share between concurrent requests.
type Gate struct {
	authz  *perms.Authorizer
	header string
	log    zerolog.Logger
}

// NewGate creates a Gate reading the identity from header. An empty header
// selects DefaultIdentityHeader.
func NewGate(authz *perms.Authorizer, header string, log zerolog.Logger) *Gate {
	if strings.TrimSpace(header) == "" {
		header = DefaultIdentityHeader
	}
	return &Gate{
		authz:  authz,
		header: http.CanonicalHeaderKey(header),
		log:    log.With().Str("component", "builder-permissioning").Logger(),
	}
}

// Header returns the canonical identity header name.
func (g *Gate) Header() string { return g.header }

// Middleware wraps next so that only the builder holding the current slot,
// inside the slot's query window, reaches it. Rejected requests are answered
// directly and never forwarded.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		at := g.authz.Now()

		var d perms.Decision
		sub, outcome, ok := g.identity(r)
		if ok {
			d = g.authz.Authorize(sub, at)
		} else {
			d = g.authz.Reject(outcome, sub, at)
		}

		g.logDecision(r, d)

		if !d.Permitted() {
			writeRejection(w, r, d.Outcome)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
	})
}

// identity extracts the claimed identity. ok is false with the rejection
// outcome when the header is missing, badly encoded, or empty.
func (g *Gate) identity(r *http.Request) (sub string, outcome perms.Outcome, ok bool) {
	values, present := r.Header[g.header]
	if !present || len(values) == 0 {
		return "", perms.MissingIdentity, false
	}
	raw := values[0]
	if !validHeaderValue(raw) {
		return "", perms.MalformedIdentity, false
	}
	sub = strings.Trim(raw, " \t")
	if sub == "" {
		return "", perms.EmptyIdentity, false
	}
	return sub, perms.Undecided, true
}

// validHeaderValue accepts visible ASCII, space and horizontal tab only.
func validHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func (g *Gate) logDecision(r *http.Request, d perms.Decision) {
	evt := g.log.Info()
	if d.Outcome == perms.MissingIdentity || d.Outcome == perms.MalformedIdentity {
		evt = g.log.Warn()
	}

	evt = evt.
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("builder", d.Identity).
		Str("permissioned_builder", d.Assigned).
		Str("outcome", d.Outcome.String())
	if d.SlotKnown {
		evt = evt.Uint64("current_slot", d.Slot).Uint64("point_in_slot", d.Point)
	}

	if d.Permitted() {
		evt.Msg("builder permissioned successfully")
		return
	}
	evt.Err(d.Err()).Msg("permission denied")
}

type rejection struct {
	status  int
	code    string
	message string
}

var rejections = map[perms.Outcome]rejection{
	perms.MissingIdentity:        {http.StatusUnauthorized, "MISSING_AUTH_HEADER", "Missing authentication header"},
	perms.MalformedIdentity:      {http.StatusBadRequest, "INVALID_HEADER_ENCODING", "Invalid header encoding"},
	perms.EmptyIdentity:          {http.StatusUnauthorized, "EMPTY_AUTH_HEADER", "Empty authentication header"},
	perms.TooEarly:               {http.StatusForbidden, "ACTION_TOO_EARLY", "Action attempted too early in the slot"},
	perms.TooLate:                {http.StatusForbidden, "ACTION_TOO_LATE", "Action attempted too late in the slot"},
	perms.NotTheAssignedIdentity: {http.StatusForbidden, "PERMISSION_DENIED", "Builder permission denied"},
}

func writeRejection(w http.ResponseWriter, r *http.Request, o perms.Outcome) {
	rj, ok := rejections[o]
	if !ok {
		rj = rejection{http.StatusForbidden, "PERMISSION_DENIED", "Builder permission denied"}
	}
	apicommon.WriteError(w, r, rj.status, rj.code, rj.message, nil)
}
