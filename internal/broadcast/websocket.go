// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package broadcast

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSConn adapts a websocket connection to Conn. Each sentence becomes one
// text message.
type WSConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *WSConn) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.c.WriteMessage(websocket.TextMessage, bytes.TrimRight(p, "\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WSConn) SetWriteDeadline(t time.Time) error {
	return w.c.SetWriteDeadline(t)
}

func (w *WSConn) Close() error {
	return w.c.Close()
}

// HandleWS upgrades the request and registers it as a "ws" subscriber.
func HandleWS(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws: upgrade error: %v", err)
			return
		}
		addr := CleanAddress(r.RemoteAddr)
		ws := &WSConn{c: conn}
		sub, err := reg.Accept(ws, addr, "ws")
		if err != nil {
			code := websocket.CloseGoingAway
			if errors.Is(err, ErrFull) {
				code = websocket.CloseTryAgainLater
			}
			msg := websocket.FormatCloseMessage(code, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
			log.Printf("ws: rejecting %s: %v", addr, err)
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && sub.State() == StateConnected {
					log.Printf("ws: read from %s: %v", addr, err)
				}
				break
			}
		}
		reg.Remove(sub)
	}
}
