package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

// Envelope represents the common response contract.
type Envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data,omitempty"`
	Errors  []*appErrors.Error     `json:"errors,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// JSON sends a success response with an optional metadata map.
func JSON(c *gin.Context, status int, message string, data interface{}, meta ...map[string]interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	envelope := Envelope{Success: true, Message: message, Data: data}
	if len(meta) > 0 && len(meta[0]) > 0 {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// OK responds with HTTP 200.
func OK(c *gin.Context, message string, data interface{}, meta ...map[string]interface{}) {
	JSON(c, http.StatusOK, message, data, meta...)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusCreated, message, data)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Success: false, Message: appErr.Message, Errors: []*appErrors.Error{appErr}})
}

// Attachment streams a rendered file to the client.
func Attachment(c *gin.Context, filename, contentType string, body []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, body)
}
