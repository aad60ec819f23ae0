// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zacharyfmarion/openscad-studio/services/studio/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	// wsSendBuffer bounds the per-client queue. A client that cannot
	// drain it in time is disconnected rather than stalling the emitter.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The server binds to loopback; the desktop frontend connects with
	// arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams every bus event to
// the client as JSON. The subscription lives for the life of the
// socket.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan events.Event, wsSendBuffer)
	peerGone := make(chan struct{})

	subID := s.emitter.Subscribe(func(ev events.Event) {
		select {
		case send <- ev:
		default:
			// The queue is full. Dropping beats blocking the emitter;
			// the client resyncs on reconnect.
			s.logger.Warn("websocket client too slow, dropping event",
				"event_type", ev.Type)
		}
	})

	defer func() {
		s.emitter.Unsubscribe(subID)
		_ = conn.Close()
	}()

	// Reader goroutine: the client never sends data, but reading is what
	// surfaces close frames and pong responses.
	go func() {
		defer close(peerGone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-peerGone:
			return
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
