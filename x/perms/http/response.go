package http

import (
	"github.com/compose-network/builder-gate/x/perms"
	"github.com/compose-network/builder-gate/x/slot"
)

// slotResp is the JSON body of GET routeSlot.
type slotResp struct {
	BeforeChainStart bool         `json:"before_chain_start"`
	Slot             uint64       `json:"slot,omitempty"`
	PointInSlot      uint64       `json:"point_in_slot"`
	Window           *slot.Window `json:"window,omitempty"`
	Accepting        bool         `json:"accepting"`
	StartTimestamp   uint64       `json:"start_timestamp"`
	SlotOffset       uint64       `json:"slot_offset"`
	SlotDuration     uint64       `json:"slot_duration"`
	BlockQueryStart  uint64       `json:"block_query_start"`
	BlockQueryCutoff uint64       `json:"block_query_cutoff"`
}

// rosterResp is the JSON body of GET routeRoster.
type rosterResp struct {
	Builders            []perms.Builder `json:"builders"`
	Slot                uint64          `json:"slot,omitempty"`
	CurrentIndex        *uint64         `json:"current_index,omitempty"`
	PermissionedBuilder string          `json:"permissioned_builder,omitempty"`
	NextBuilder         string          `json:"next_builder,omitempty"`
}

// permissionResp is the JSON body of GET routePermission.
type permissionResp struct {
	Builder     string `json:"builder"`
	Slot        uint64 `json:"slot"`
	PointInSlot uint64 `json:"point_in_slot"`
	Outcome     string `json:"outcome"`
}
