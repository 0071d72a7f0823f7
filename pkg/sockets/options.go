package sockets

import "time"

func WithID(id string) func(*Conn) {
	return func(s *Conn) {
		s.id = id
	}
}

func WithPingInterval(d time.Duration) func(*Conn) {
	return func(s *Conn) {
		s.pingInterval = d
	}
}

func OnMessage(f func([]byte, Connection)) func(*Conn) {
	return func(s *Conn) {
		s.onMessage = f
	}
}

// OnClose is called once, when the peer goes away or a write fails.
func OnClose(f func(Connection, error)) func(*Conn) {
	return func(s *Conn) {
		s.onClose = f
	}
}
