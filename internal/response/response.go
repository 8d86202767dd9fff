package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every endpoint answers with. The mobile client
// reads message on failure and data on success.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success wraps data in a success envelope
func Success(data interface{}) Response {
	return Response{
		Success: true,
		Message: "success",
		Data:    data,
	}
}

// Failure returns an error envelope carrying a client-facing message
func Failure(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// SuccessJSON sends a 200 success envelope
func SuccessJSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Success(data))
}

// ErrorJSON sends an error envelope with statusCode
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Failure(message))
}

// Abort sends an error envelope and stops the remaining handlers
func Abort(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, Failure(message))
}
