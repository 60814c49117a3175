// Package api holds the JSON payloads exchanged between the location
// service and its clients.
package api

import (
	"locstore/pkg/election"
	"locstore/pkg/model"
)

type GetBulkRequest struct {
	Hashes []model.ContentHash `json:"hashes"`
}

type GetBulkResponse struct {
	Entries []model.Entry `json:"entries"`
}

type RegisterRequest struct {
	Machine model.MachineLocation `json:"machine"`
	Entries []model.Entry         `json:"entries"`
}

type TouchRequest struct {
	Machine model.MachineLocation `json:"machine"`
	Hashes  []model.ContentHash   `json:"hashes"`
}

type UnregisterRequest struct {
	Hashes []model.ContentHash `json:"hashes"`
}

// Status describes a running node.
type Status struct {
	Machine model.MachineLocation `json:"machine"`
	Role    election.Role         `json:"role"`
	Master  model.MachineLocation `json:"master,omitempty"`
}
