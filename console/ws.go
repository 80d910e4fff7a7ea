package console

import (
	"context"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// wsOutputWriter streams host output to a WebSocket client as ExecResponse messages.
type wsOutputWriter struct {
	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn
}

func (w *wsOutputWriter) Write(b []byte) (int, error) {
	// the write limit is over-conservative, it estimates the final encoded json size
	writeLimit := readLimit / 3
	left := b
	for len(left) > 0 {
		chunk := left
		if len(chunk) > writeLimit {
			chunk = chunk[:writeLimit]
		}
		left = left[len(chunk):]
		// copied since the host may reuse b after Write returns
		msg := ExecResponse{Output: append([]byte(nil), chunk...)}
		if err := wsjson.Write(w.ctx, w.conn, &msg); err != nil {
			w.log.Debugf("error writing output: %s", err)
			return len(b) - len(left) - len(chunk), err
		}
	}
	return len(b), nil
}
