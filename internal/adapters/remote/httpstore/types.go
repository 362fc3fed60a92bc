package httpstore

import (
	"github.com/jbctechsolutions/tempo/internal/domain/entity"
)

// Backend is the name this store registers under.
const Backend = "http"

// API endpoints
const (
	EndpointEntities = "/v1/entities"
)

// HeaderIfMatch carries the base version of an update.
const HeaderIfMatch = "If-Match"

// EntityResponse is the remote representation of an entity.
type EntityResponse struct {
	Type    entity.Type    `json:"type"`
	ID      string         `json:"id"`
	Fields  entity.Fields  `json:"fields"`
	Version entity.Version `json:"version"`
}

// CreateRequest is the body of POST /v1/entities/{type}.
type CreateRequest struct {
	ID     string        `json:"id"`
	Fields entity.Fields `json:"fields"`
}

// UpdateRequest is the body of PATCH /v1/entities/{type}/{id}.
type UpdateRequest struct {
	Fields entity.Fields `json:"fields"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
