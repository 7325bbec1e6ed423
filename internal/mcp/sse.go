package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sseClient represents a connected SSE client.
type sseClient struct {
	id     string
	events chan []byte
}

// SSEServer carries MCP traffic over server-sent events: clients hold an
// event stream open on /sse and POST requests to /message.
type SSEServer struct {
	srv     *Server
	mu      sync.Mutex
	clients map[string]*sseClient
	nextID  int
}

func NewSSEServer(srv *Server) *SSEServer {
	return &SSEServer{srv: srv, clients: make(map[string]*sseClient)}
}

func (s *SSEServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAddr returns addr with an empty host replaced by 127.0.0.1, so
// ":8080" and "8080" stay on loopback. Binding other interfaces needs an
// explicit host such as "0.0.0.0:8080".
func ListenAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if _, perr := net.LookupPort("tcp", addr); perr != nil {
			return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
		host, port = "", addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

// ListenAndServe serves on addr until ctx is cancelled. A host-less addr
// binds loopback only.
func (s *SSEServer) ListenAndServe(ctx context.Context, addr string) error {
	addr, err := ListenAddr(addr)
	if err != nil {
		return err
	}
	hs := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	s.srv.logger.Info("SSE server listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *SSEServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.mu.Lock()
	count := len(s.clients)
	s.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"connectedClients": count,
	})
}

func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.mu.Lock()
	s.nextID++
	client := &sseClient{
		id:     fmt.Sprintf("client-%d", s.nextID),
		events: make(chan []byte, 64),
	}
	s.clients[client.id] = client
	s.mu.Unlock()

	log := s.srv.logger.With(zap.String("client", client.id))
	log.Info("SSE client connected")

	// The endpoint event tells the client where to POST; the session id
	// routes responses back to this stream.
	fmt.Fprintf(w, "event: endpoint\ndata: /message?sessionId=%s\n\n", client.id)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			delete(s.clients, client.id)
			s.mu.Unlock()
			log.Info("SSE client disconnected")
			return
		case data := <-client.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(&JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: codeParseError, Message: "Parse error"},
		})
		return
	}
	if isNotification(req) {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, _ := json.Marshal(s.srv.handle(r.Context(), req))

	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		s.mu.Lock()
		client, ok := s.clients[sessionID]
		s.mu.Unlock()
		if ok {
			select {
			case client.events <- data:
			default:
				s.srv.logger.Warn("SSE client buffer full, dropping message", zap.String("client", sessionID))
			}
		}
	}

	// The response also goes back on the POST for request/response clients.
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
