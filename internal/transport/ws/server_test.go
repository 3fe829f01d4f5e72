package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/city"
	"microcity.dev/internal/sim/tuning"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

func startCity(t *testing.T) (string, context.CancelFunc) {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune := tuning.Defaults()
	tune.TickRateHz = 20
	c, err := city.New(city.Config{ID: "test_city", Seed: 7, Tuning: tune}, cats)
	if err != nil {
		t.Fatalf("city: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/city", NewServer(c, log.New(io.Discard, "", 0)).Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/city", cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, want string, v any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode base: %v", err)
		}
		if base.Type != want {
			continue
		}
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
		return
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	readType(t, conn, protocol.TypeWelcome, &w)
	return w
}

func TestHandshake(t *testing.T) {
	url, cancel := startCity(t)
	defer cancel()
	conn := dial(t, url)

	w := hello(t, conn)
	if w.CityID != "test_city" || w.SessionID == "" {
		t.Fatalf("welcome: city=%q session=%q", w.CityID, w.SessionID)
	}
	if w.Width != 25 || w.Height != 25 || w.TilesDigest == "" || len(w.Tiles) == 0 {
		t.Fatalf("welcome: %+v", w)
	}

	var st protocol.StateMsg
	readType(t, conn, protocol.TypeState, &st)
	if len(st.Tiles) != 25*25 {
		t.Fatalf("state tiles: got %d", len(st.Tiles))
	}
	if st.Metrics.Budget != 1000 {
		t.Fatalf("state budget: got %v", st.Metrics.Budget)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	url, cancel := startCity(t)
	defer cancel()
	conn := dial(t, url)
	hello(t, conn)

	cmd := protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		ID:              "c1",
		Command:         protocol.CmdPlaceTile,
		X:               3,
		Y:               3,
		TileID:          "road",
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
	var res protocol.ResultMsg
	readType(t, conn, protocol.TypeResult, &res)
	if !res.OK || res.ID != "c1" {
		t.Fatalf("result: %+v", res)
	}
	if res.Budget != 990 {
		t.Fatalf("budget after road: got %v", res.Budget)
	}

	cmd.ID = "c2"
	cmd.X = 99
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
	readType(t, conn, protocol.TypeResult, &res)
	if res.OK || res.Code != protocol.ErrOutOfBounds {
		t.Fatalf("expected out of bounds, got %+v", res)
	}
}

func TestMalformedCommand(t *testing.T) {
	url, cancel := startCity(t)
	defer cancel()
	conn := dial(t, url)
	hello(t, conn)

	raw := `{"type":"COMMAND","protocol_version":"1.0","id":"bad","command":"place_tile","x":1}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var res protocol.ResultMsg
	readType(t, conn, protocol.TypeResult, &res)
	if res.OK || res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("expected bad request, got %+v", res)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.3:80":    false,
		"example.com:80": false,
		"":               false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
