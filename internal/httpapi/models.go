package httpapi

import (
	"github.com/tejusbharadwaj/currentcost/internal/span"
)

// ConnectRequest is the body of POST /api/v1/connect.
type ConnectRequest struct {
	Transport string `json:"transport" binding:"required"`
	Address   string `json:"address"`
	Topic     string `json:"topic"`
}

// SpanRequest holds the query of GET /api/v1/span. Times are RFC 3339.
type SpanRequest struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

type SpanResponse struct {
	Summary span.Summary `json:"summary"`
	Message string       `json:"message"`
}

// SettingRequest is the body of PUT /api/v1/settings/:key.
type SettingRequest struct {
	Value string `json:"value" binding:"required"`
}

type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
