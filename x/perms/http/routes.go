package http

// Route patterns for the builder permissioning HTTP surface.
const (
	routeSlot       = "/v1/slot"
	routeRoster     = "/v1/roster"
	routeBuilders   = "/v1/builders"
	routePermission = "/permission" // under routeBuilders
)

// Route names for mux URL building.
const (
	routeNameSlot       = "perms_slot"
	routeNameRoster     = "perms_roster"
	routeNamePermission = "perms_permission"
)
