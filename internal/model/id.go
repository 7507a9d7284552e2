package model

import "github.com/oklog/ulid/v2"

// NewSessionID generates a new ULID string correlating one outbound message
// with its eventual callback.
func NewSessionID() string {
	return "session_" + ulid.Make().String()
}
