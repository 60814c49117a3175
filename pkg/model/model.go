package model

import "time"

// MachineLocation is the network address (host:port) of one fleet member.
// Locations are opaque values compared by equality.
type MachineLocation string

// ContentHash identifies a piece of content by its digest.
type ContentHash string

// Entry records where a piece of content currently lives in the fleet.
type Entry struct {
	Hash       ContentHash       `json:"hash"`
	Size       int64             `json:"size"`
	Locations  []MachineLocation `json:"locations"`
	LastAccess time.Time         `json:"last_access"`
}

// Found reports whether any machine is known to hold the content.
func (e Entry) Found() bool {
	return len(e.Locations) > 0
}

// HasLocation reports whether machine is recorded as holding the content.
func (e Entry) HasLocation(machine MachineLocation) bool {
	for _, m := range e.Locations {
		if m == machine {
			return true
		}
	}
	return false
}
