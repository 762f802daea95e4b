package host

import (
	"context"

	"github.com/chazu/lumen/pliot"
)

// Serve accepts framed connections and dispatches their messages until the
// context ends. A dropped connection discards any partial frame state and
// the loop re-waits for the next peer; the core lock is never held while
// waiting on the transport.
func (c *Controller) Serve(ctx context.Context, ln pliot.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		log.Info("client connected")
		c.serveConn(conn)
		log.Info("client disconnected")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Controller) serveConn(conn pliot.FrameConn) {
	defer conn.Close()
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}
		reply, err := c.HandleFrame(frame)
		if err != nil {
			log.Errorf("encode reply: %s", err.Error())
			continue
		}
		if reply == nil {
			continue
		}
		if err := conn.WriteFrame(reply); err != nil {
			return
		}
	}
}
