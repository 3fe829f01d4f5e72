package ws

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/city"
)

type Server struct {
	city *city.City
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(c *city.City, logger *log.Logger) *Server {
	s := &Server{
		city: c,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see Handler
		},
	}
	return s
}

// Handler serves the city socket: HELLO, then WELCOME and a STATE per tick;
// COMMAND messages are answered with RESULT.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.logf("session %s joined from %s", sessionID, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		results := make(chan []byte, 16)

		// Writer goroutine.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-results:
				case b = <-out:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCommand {
				continue
			}
			res := s.command(ctx, sessionID, msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case results <- b:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		s.city.Leave() <- sessionID
		s.logf("session %s left", sessionID)
	}
}

func (s *Server) command(ctx context.Context, sessionID string, msg []byte) protocol.ResultMsg {
	cmd, err := protocol.DecodeCommand(msg)
	if err != nil {
		_ = json.Unmarshal(msg, &cmd)
		return s.reject(cmd.ID, protocol.ErrProtoBadRequest, err.Error())
	}
	if cmd.ProtocolVersion != protocol.Version {
		return s.reject(cmd.ID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}

	resp := make(chan protocol.ResultMsg, 1)
	select {
	case s.city.Commands() <- city.CommandRequest{Actor: sessionID, Cmd: cmd, Resp: resp}:
	default:
		return s.reject(cmd.ID, protocol.ErrBusy, "command queue full")
	}
	select {
	case res := <-resp:
		return res
	case <-ctx.Done():
		return s.reject(cmd.ID, protocol.ErrInternal, "session closed")
	}
}

func (s *Server) reject(id, code, message string) protocol.ResultMsg {
	m := s.city.LatestMetrics()
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Code:            code,
		Message:         message,
		Budget:          m.Budget,
		Tick:            s.city.CurrentTick(),
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)
	sessionID = "S_" + uuid.NewString()

	if err := writeJSON(conn, s.city.Welcome(sessionID)); err != nil {
		return "", nil
	}
	respCh := make(chan protocol.StateMsg, 1)
	s.city.Join() <- city.JoinRequest{SessionID: sessionID, Out: out, Resp: respCh}
	if err := writeJSON(conn, <-respCh); err != nil {
		s.city.Leave() <- sessionID
		return "", nil
	}
	return sessionID, out
}

func (s *Server) logf(format string, args ...any) {
	if s.log == nil {
		return
	}
	s.log.Printf(format, args...)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
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
