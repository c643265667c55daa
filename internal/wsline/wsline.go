// Package wsline serves the game over WebSocket text frames. Each frame
// carries one or more input lines; output is sent as one frame per write.
package wsline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"samud/internal/game"
)

const (
	writeWait = 5 * time.Second
	// Messages larger than this close the socket with 1009. Oversized
	// lines inside smaller messages are only discarded.
	maxMessage = 1 << 20
)

// frameLine is one line of an input frame.
type frameLine struct {
	text    string
	tooLong bool
}

// Conn adapts a websocket connection to game.LineConn.
type Conn struct {
	ws     *websocket.Conn
	remote string

	rmu     sync.Mutex
	pending []frameLine

	wmu sync.Mutex
}

// NewConn wraps ws. remote overrides the peer address when non-empty.
func NewConn(ws *websocket.Conn, remote string) *Conn {
	if remote == "" {
		remote = ws.RemoteAddr().String()
	}
	ws.SetReadLimit(maxMessage)
	return &Conn{ws: ws, remote: remote}
}

// ReadLine returns the next line from the client. A line over
// game.MaxLineLength bytes is replaced by game.ErrInputTooLong.
func (c *Conn) ReadLine() (string, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for len(c.pending) == 0 {
		kind, r, err := c.ws.NextReader()
		if err != nil {
			return "", err
		}
		if kind != websocket.TextMessage {
			continue
		}
		if c.pending, err = splitFrame(r); err != nil {
			return "", err
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	if line.tooLong {
		return "", game.ErrInputTooLong
	}
	return strings.ToValidUTF8(line.text, ""), nil
}

// splitFrame streams one message into lines. A line over
// game.MaxLineLength is consumed without being buffered and marked
// tooLong.
func splitFrame(r io.Reader) ([]frameLine, error) {
	br := bufio.NewReaderSize(r, game.MaxLineLength)
	var (
		lines []frameLine
		cur   []byte
		over  bool
	)
	flush := func() {
		if over {
			lines = append(lines, frameLine{tooLong: true})
		} else {
			lines = append(lines, frameLine{text: strings.ReplaceAll(string(cur), "\r", "")})
		}
		cur, over = cur[:0], false
	}
	for {
		chunk, err := br.ReadSlice('\n')
		if !over {
			cur = append(cur, chunk...)
			if len(bytes.TrimRight(cur, "\r\n")) > game.MaxLineLength {
				over = true
				cur = cur[:0]
			}
		}
		switch {
		case err == nil:
			cur = bytes.TrimSuffix(cur, []byte("\n"))
			flush()
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if len(cur) > 0 || over || len(lines) == 0 {
				flush()
			}
			return lines, nil
		default:
			return nil, err
		}
	}
}

// WriteString sends msg as a single text frame.
func (c *Conn) WriteString(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

func (c *Conn) RemoteAddr() string { return c.remote }

// Server upgrades /ws requests and runs each connection through the game.
type Server struct {
	game     *game.Game
	dispatch game.Dispatcher
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(g *game.Game, dispatch game.Dispatcher) *Server {
	return &Server{
		game:     g,
		dispatch: dispatch,
		log:      g.Log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves one connection per request until the session ends or
// ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		s.game.Serve(ctx, NewConn(ws, r.RemoteAddr), s.dispatch)
	}
}

// ListenAndServe serves /ws on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.Handler(ctx))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()
	s.log.Info("websocket listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
