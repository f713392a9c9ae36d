package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// Register installs the relay's routes on mux:
//
//	GET /streams/{mount}               WebSocket subscription
//	GET /streams/{mount}/snapshot.png  latest video frame, if snapshots are on
func (r *Relay) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /streams/{mount}", r.handleSubscribe)
	if r.snapshots {
		mux.HandleFunc("GET /streams/{mount}/snapshot.png", r.handleSnapshot)
	}
}

func (r *Relay) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	name := sensor.StreamID(req.PathValue("mount"))
	if _, ok := r.mounts[name]; !ok {
		http.Error(w, "unknown mount", http.StatusNotFound)
		return
	}

	// Accept answers 403 itself when the Origin is not allowed.
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: r.origins,
	})
	if err != nil {
		slog.Warn("relay: websocket accept failed", "mount", name, "err", err)
		return
	}

	sub, ok := r.attach(name)
	if !ok {
		conn.Close(websocket.StatusInternalError, "mount removed")
		return
	}
	log := slog.With("mount", name, "session", sub.id, "remote", req.RemoteAddr)

	r.observer.SessionStarted(name)
	log.Info("relay: session started")

	// Clients only receive; CloseRead handles their control frames and
	// cancels ctx when they go away.
	ctx := conn.CloseRead(req.Context())
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)

	err = r.writeLoop(ctx, conn, sub)

	stop()
	cancel()
	r.detach(name, sub)
	r.observer.SessionEnded(name)

	switch {
	case err == nil || errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		conn.Close(websocket.StatusInternalError, "write failed")
	}
	log.Info("relay: session ended", "dropped", sub.dropped(), "err", err)
}

// writeLoop sends queued messages until ctx is done or a write fails.
func (r *Relay) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.queue:
			typ := websocket.MessageText
			if msg.binary {
				typ = websocket.MessageBinary
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, typ, msg.data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
