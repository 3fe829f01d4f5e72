// Package observer serves read-only HTTP views of a running city.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/city"
)

type Server struct {
	city *city.City
	log  *log.Logger

	queryTimeout time.Duration
}

func NewServer(c *city.City, logger *log.Logger) *Server {
	return &Server{city: c, log: logger, queryTimeout: 2 * time.Second}
}

// BootstrapHandler returns the WELCOME payload without opening a session.
func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		writeJSON(rw, http.StatusOK, s.city.Welcome(""))
	}
}

// StateHandler returns a full STATE snapshot taken on the city goroutine.
// With ?x=&y= it returns only that tile.
func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		resp := make(chan protocol.StateMsg, 1)
		select {
		case s.city.Queries() <- city.SnapshotRequest{Resp: resp}:
		default:
			http.Error(rw, "busy", http.StatusServiceUnavailable)
			return
		}
		var st protocol.StateMsg
		select {
		case st = <-resp:
		case <-time.After(s.queryTimeout):
			http.Error(rw, "timeout", http.StatusGatewayTimeout)
			return
		case <-r.Context().Done():
			return
		}

		q := r.URL.Query()
		if q.Get("x") == "" && q.Get("y") == "" {
			writeJSON(rw, http.StatusOK, st)
			return
		}
		x, errX := strconv.Atoi(q.Get("x"))
		y, errY := strconv.Atoi(q.Get("y"))
		if errX != nil || errY != nil {
			http.Error(rw, "bad x/y", http.StatusBadRequest)
			return
		}
		if x < 0 || y < 0 || x >= st.Width || y >= st.Height {
			http.Error(rw, "out of bounds", http.StatusNotFound)
			return
		}
		writeJSON(rw, http.StatusOK, st.Tiles[y*st.Width+x])
	}
}

func (s *Server) allow(rw http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
