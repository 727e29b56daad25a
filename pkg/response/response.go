package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"HibiscusHood/pkg/errors"
)

type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: -1, Message: message, Data: data})
}

// FailErr 按平台错误码映射 HTTP 状态
func FailErr(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeForbidden:
		status = http.StatusForbidden
	case errors.CodeInvalidTransition:
		status = http.StatusConflict
	case errors.CodeCooldown:
		status = http.StatusTooManyRequests
		if e, ok := err.(*errors.Error); ok && e.RetryAfter > 0 {
			secs := int(e.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	c.JSON(status, Body{Code: errors.GetCode(err), Message: errors.GetMessage(err)})
}
