package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/builder-gate/server/api"
	"github.com/compose-network/builder-gate/x/perms"
)

// Handler serves slot and roster status, and guards the builder routes with
// a Gate.
type Handler struct {
	authz    *perms.Authorizer
	gate     *Gate
	upstream http.Handler
	log      zerolog.Logger
}

// NewHandler creates a Handler. When upstream is nil, the builder routes only
// expose the permission check itself; otherwise permitted builder requests are
// forwarded to upstream unchanged.
func NewHandler(authz *perms.Authorizer, gate *Gate, upstream http.Handler, log zerolog.Logger) *Handler {
	return &Handler{
		authz:    authz,
		gate:     gate,
		upstream: upstream,
		log:      log.With().Str("component", "perms-http").Logger(),
	}
}

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeSlot, h.handleSlot).Methods(http.MethodGet).Name(routeNameSlot)
	r.HandleFunc(routeRoster, h.handleRoster).Methods(http.MethodGet).Name(routeNameRoster)

	builders := r.PathPrefix(routeBuilders).Subrouter()
	builders.Use(h.gate.Middleware)
	builders.HandleFunc(routePermission, h.handlePermission).Methods(http.MethodGet).Name(routeNamePermission)
	if h.upstream != nil {
		builders.PathPrefix("/").Handler(h.upstream)
	}
}

func (h *Handler) handleSlot(w http.ResponseWriter, _ *http.Request) {
	b := h.authz.Builders()
	calc := b.Calc()
	cfg := b.Config()

	resp := slotResp{
		StartTimestamp:   calc.StartTimestamp(),
		SlotOffset:       calc.SlotOffset(),
		SlotDuration:     calc.SlotDuration(),
		BlockQueryStart:  cfg.BlockQueryStart(),
		BlockQueryCutoff: cfg.BlockQueryCutoff(),
	}

	snap := h.authz.Snapshot(h.authz.Now())
	if !snap.SlotKnown {
		resp.BeforeChainStart = true
		apicommon.WriteJSON(w, http.StatusOK, resp)
		return
	}

	resp.Slot = snap.Slot
	resp.PointInSlot = snap.Point
	resp.Accepting = cfg.Allows(snap.Point)
	if win, ok := calc.SlotWindow(snap.Slot); ok {
		resp.Window = &win
	}
	apicommon.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRoster(w http.ResponseWriter, _ *http.Request) {
	b := h.authz.Builders()
	resp := rosterResp{Builders: b.List()}

	snap := h.authz.Snapshot(h.authz.Now())
	if snap.SlotKnown {
		idx := b.IndexForSlot(snap.Slot)
		resp.Slot = snap.Slot
		resp.CurrentIndex = &idx
		resp.PermissionedBuilder = snap.Assigned
		resp.NextBuilder = b.BuilderForSlot(snap.Slot + 1).Sub
	}
	apicommon.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePermission(w http.ResponseWriter, r *http.Request) {
	d, ok := DecisionFromContext(r.Context())
	if !ok {
		h.log.Error().Msg("permission route reached without a decision")
		apicommon.WriteError(w, r, http.StatusInternalServerError, "internal_error", "missing authorization decision", nil)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, permissionResp{
		Builder:     d.Identity,
		Slot:        d.Slot,
		PointInSlot: d.Point,
		Outcome:     d.Outcome.String(),
	})
}
