package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/guseggert/extscript/host"
	"github.com/guseggert/extscript/protocol"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Host is the command-driven tool the console exposes.
type Host interface {
	Exec(ctx context.Context, args []string) error
	SetOutput(w io.Writer) io.Writer
}

// Server is an HTTP console for a host: it runs host commands for remote clients and serves the output of
// the last command delegated by a runner.
// The host is single-threaded, so commands from all clients are run one at a time.
type Server struct {
	logger *zap.SugaredLogger

	host   Host
	hostMu sync.Mutex

	listenAddr  string
	capturePath string
	gatherer    prometheus.Gatherer

	httpServer *http.Server

	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithCapturePath sets the capture file served on /capture.
func WithCapturePath(p string) Option {
	return func(s *Server) {
		s.capturePath = p
	}
}

// WithGatherer sets where /metrics gathers from. The default is the prometheus default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("console").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// NewServer constructs a console for h.
func NewServer(h Host, opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:      logger.Named("console").Sugar(),
		host:        h,
		listenAddr:  "127.0.0.1:8080",
		capturePath: protocol.DefaultCapturePath,
		gatherer:    prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(s)
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	return s, nil
}

// Handler returns the console's routes.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/exec", s.execWS)
	router.POST("/exec", s.exec)
	router.GET("/capture", s.capture)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return router
}

// Run serves the console and returns once it has been stopped.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.logger.Debugw("console listening", "Addr", ln.Addr().String())

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// Exec runs one host command line with its output going to w.
func (s *Server) Exec(ctx context.Context, w io.Writer, args []string) ExecResponse {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()

	prev := s.host.SetOutput(w)
	err := s.host.Exec(ctx, args)
	s.host.SetOutput(prev)

	resp := ExecResponse{Done: true}
	if err != nil {
		resp.Error = err.Error()
		resp.Aborted = host.IsAbort(err)
	}
	return resp
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.heartbeatMut.Lock()
	lastHeartbeat := s.lastHeartbeat
	s.lastHeartbeat = time.Now()
	s.heartbeatMut.Unlock()
	response := struct {
		LastHeartbeat string
	}{
		LastHeartbeat: lastHeartbeat.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// exec runs a single command and sends its whole output in the response.
// This is easier to curl than the WebSocket stream.
func (s *Server) exec(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Args) == 0 {
		http.Error(w, "request contained no command", http.StatusBadRequest)
		return
	}

	out := &bytes.Buffer{}
	resp := s.Exec(r.Context(), out, req.Args)
	resp.Output = out.Bytes()

	b, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// execWS runs command lines as they arrive on a WebSocket, streaming each one's output followed by a Done message.
func (s *Server) execWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	conn.SetReadLimit(readLimit)
	s.logger.Debug("accepted WebSocket conn")

	ctx := r.Context()
	out := &wsOutputWriter{log: s.logger.Named("output_writer"), ctx: ctx, conn: conn}
	for {
		var req ExecRequest
		err := wsjson.Read(ctx, conn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.logger.Debug("got normal closure from client")
			return
		}
		if err != nil {
			s.logger.Debugf("error reading request: %s", err)
			conn.Close(websocket.StatusInternalError, err.Error())
			return
		}

		resp := s.Exec(ctx, out, req.Args)
		if err := wsjson.Write(ctx, conn, &resp); err != nil {
			s.logger.Debugf("error sending result: %s", err)
			conn.Close(websocket.StatusInternalError, err.Error())
			return
		}
	}
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()

	f, err := os.Open(s.capturePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no command output captured", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Add("Content-Type", "text/plain")
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debugf("error sending capture: %s", err)
	}
}
