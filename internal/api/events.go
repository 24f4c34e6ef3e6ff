package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zxhio/telemetry-int/internal/errcode"
)

type EventAPI interface {
	Publish(topic string, content json.RawMessage) error
}

type httpEventWrapper struct {
	impl EventAPI
}

// PublishEvent queues an event for its reaction, the response never waits
// for the reaction to complete.
func (w httpEventWrapper) PublishEvent(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		Error(c, errcode.NewError(errcode.CodeInvalid, err))
		return
	}
	if len(data) == 0 {
		data = []byte("{}")
	}

	name := c.Param("name")
	if err := w.impl.Publish(name, data); err != nil {
		Error(c, err)
		return
	}
	c.JSON(http.StatusAccepted, Response{Code: errcode.CodeSuccess, Message: errcode.CodeSuccess.String(), Data: name})
}
