package serializer

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// Response is the envelope for the plain HTTP endpoints.
type Response struct {
	Code  int         `json:"code,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Msg   string      `json:"msg"`
	Error string      `json:"error,omitempty"`
}

// Err
func Err(errCode int, msg string, err error) Response {
	res := Response{
		Code: errCode,
		Msg:  msg,
	}
	// development mode, show error detail
	if err != nil && gin.Mode() != gin.ReleaseMode {
		res.Error = fmt.Sprintf("%+v", err)
	}
	return res
}

// Ack acknowledges a room operation back to the requesting connection.
type Ack struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	Error   string `json:"error,omitempty"`
}

func AckOK(roomID string) Ack { return Ack{Success: true, RoomID: roomID} }

func AckErr(msg string) Ack { return Ack{Success: false, Error: msg} }

// EventError reports a validation failure on an inbound event. It is only
// ever sent to the originating connection, never broadcast.
type EventError struct {
	Event string `json:"event"`
	Error string `json:"error"`
}
