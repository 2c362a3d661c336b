package client

import (
	"github.com/localrivet/dbgctl/protocol"
	"github.com/localrivet/dbgctl/transport/sse"
)

// readLoop consumes the event stream until it ends. Every outstanding request
// of the connection is failed on exit.
func (c *Client) readLoop(conn *connection, reader *sse.Reader) {
	for {
		ev, err := reader.ReadEvent()
		if err != nil {
			if conn.closing.Load() {
				c.logger.Debug("Event stream for %s closed", conn.serverURL)
			} else {
				c.logger.Debug("Event stream for %s ended: %v", conn.serverURL, err)
			}
			conn.dead.Store(true)
			if n := conn.failPending(ErrDisconnected); n > 0 {
				c.logger.Debug("Failed %d outstanding requests", n)
			}
			return
		}
		c.dispatchPayload(conn, []byte(ev.Data))
	}
}

// dispatchPayload routes one inbound payload. An id matching an outstanding
// request resolves it whatever else the payload carries; anything left with a
// method goes to the router or the notification handler.
func (c *Client) dispatchPayload(conn *connection, payload []byte) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		c.logger.Debug("Discarding unparseable payload: %v", err)
		return
	}

	id, numeric := msg.NumericID()
	if numeric && conn.resolve(id, msg.Raw) {
		return
	}

	switch msg.Kind() {
	case protocol.KindRequest:
		conn.wg.Go(func() {
			if err := c.answerServerRequest(conn.ctx, conn, msg); err != nil {
				c.logger.Warn("Failed to answer %s: %v", msg.Method, err)
			}
		})
	case protocol.KindNotification:
		c.handleNotification(msg)
	case protocol.KindResponse:
		if !numeric {
			c.logger.Debug("Discarding response with non-numeric id %s", msg.ID)
			return
		}
		c.logger.Debug("Discarding response for unknown request %d", id)
	default:
		c.logger.Debug("Discarding message without method or id")
	}
}
