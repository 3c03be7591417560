package guac

import "github.com/google/uuid"

// NewID returns a new externally-addressable identifier for a session or
// user. spec.md §9 recommends an arena+dense-index representation for
// internal pointer graphs (layers, streams); this id is the external
// handle a transport hands a viewer, analogous to the teacher's
// websocket-client AgentID and the session ids used in
// LanternOps-breeze's sessionbroker.
func NewID() string {
	return uuid.NewString()
}
