package http

import (
	"github.com/gin-gonic/gin"

	"medauth/internal/service"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func errorEnvelope(err *service.AuthError) envelope {
	return envelope{
		Success: false,
		Error: &errorBody{
			Code:    err.Code,
			Message: err.Message,
			Details: err.Details,
		},
	}
}
