// Package rpc provides the JSON-RPC 2.0 surface spec.md §6 calls "Exposed":
// SwapRequest ingress (swap_initiate), the Accept/Decline decision
// (swap_accept/swap_decline) that resolves internal/swaprunner's Decider for
// an inbound swap, the action query (swap_get), and state/metadata listing
// (swap_list). It also keeps the teacher's node/peer introspection methods,
// since internal/node is unchanged infrastructure this dispatch still runs
// on top of. Every write this engine can perform reaches it through here;
// internal/opui's hub, mounted alongside at /ws, is read-only by design.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/comit-node/rfc003/internal/dispatch"
	"github.com/comit-node/rfc003/internal/node"
	"github.com/comit-node/rfc003/internal/opui"
	"github.com/comit-node/rfc003/internal/swapid"
	"github.com/comit-node/rfc003/pkg/logging"
)

// Server is a JSON-RPC 2.0 server over the swap dispatcher and the P2P node.
type Server struct {
	node   *node.Node
	disp   *dispatch.Dispatcher
	hub    *opui.Hub
	log    *logging.Logger

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewServer creates a JSON-RPC server over an already-running node and swap
// dispatcher. hub is mounted at GET /ws for the read-only operator view.
func NewServer(n *node.Node, disp *dispatch.Dispatcher, hub *opui.Hub) *Server {
	s := &Server{
		node:     n,
		disp:     disp,
		hub:      hub,
		log:      logging.GetDefault().Component("rpc"),
		handlers: make(map[string]Handler),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlers["node_info"] = s.nodeInfo
	s.handlers["node_status"] = s.nodeStatus

	s.handlers["peers_list"] = s.peersList
	s.handlers["peers_count"] = s.peersCount
	s.handlers["peers_connect"] = s.peersConnect

	s.handlers["swap_initiate"] = s.swapInitiate
	s.handlers["swap_accept"] = s.swapAccept
	s.handlers["swap_decline"] = s.swapDecline
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_list"] = s.swapList
	s.handlers["swap_pending"] = s.swapPending
}

// Start starts the RPC server and the opui read-only websocket alongside it.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeHTTP)
	}

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) nodeInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"peer_id": s.node.ID().String(),
		"addrs":   addrStrings(s.node),
		"uptime":  s.node.Uptime().String(),
	}, nil
}

func (s *Server) nodeStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"peer_count": s.node.PeerCount(),
		"uptime":     s.node.Uptime().String(),
	}, nil
}

func (s *Server) peersList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	peers := s.node.Peers()
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.String()
	}
	return ids, nil
}

func (s *Server) peersCount(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.node.PeerCount(), nil
}

type peersConnectParams struct {
	Addr string `json:"addr"`
}

func (s *Server) peersConnect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p peersConnectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := s.node.ConnectByAddr(ctx, p.Addr); err != nil {
		return nil, err
	}
	return map[string]bool{"connected": true}, nil
}

// swapInitiateParams is Alice's side of SwapRequest ingress (§6): the
// counterparty to negotiate with and the amounts each leg locks. The
// dispatcher derives fresh redeem/refund identities and generates the
// secret itself (internal/keystore, internal/secret) rather than asking the
// caller to supply them.
type swapInitiateParams struct {
	Counterparty string `json:"counterparty"`
	AlphaSats    uint64 `json:"alpha_sats"`
	BetaWei      string `json:"beta_wei"`
}

func (s *Server) swapInitiate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p swapInitiateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	counterparty, err := peer.Decode(p.Counterparty)
	if err != nil {
		return nil, fmt.Errorf("invalid counterparty peer id: %w", err)
	}
	betaWei, ok := new(big.Int).SetString(p.BetaWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid beta_wei amount %q", p.BetaWei)
	}

	id, err := s.disp.Initiate(ctx, counterparty, p.AlphaSats, betaWei, defaultSwapTimeout)
	if err != nil {
		return nil, err
	}
	return map[string]string{"swap_id": id.String()}, nil
}

const defaultSwapTimeout = 24 * 60 * 60

type swapIDParams struct {
	ID string `json:"id"`
}

func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p swapIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := swapid.Parse(p.ID)
	if err != nil {
		return nil, err
	}
	return s.disp.GetSwap(id)
}

func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.disp.ListSwaps()
}

func (s *Server) swapPending(ctx context.Context, params json.RawMessage) (interface{}, error) {
	pending := s.disp.ListPending()
	out := make([]map[string]interface{}, len(pending))
	for i, p := range pending {
		out[i] = map[string]interface{}{
			"id":      p.ID.String(),
			"peer":    p.Peer.String(),
			"request": json.RawMessage(p.Request),
		}
	}
	return out, nil
}

func (s *Server) swapAccept(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p swapIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := swapid.Parse(p.ID)
	if err != nil {
		return nil, err
	}
	if !s.disp.Accept(id) {
		return nil, fmt.Errorf("no pending decision for swap %s", id)
	}
	return map[string]bool{"accepted": true}, nil
}

type swapDeclineParams struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (s *Server) swapDecline(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p swapDeclineParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := swapid.Parse(p.ID)
	if err != nil {
		return nil, err
	}
	if !s.disp.Decline(id, p.Reason) {
		return nil, fmt.Errorf("no pending decision for swap %s", id)
	}
	return map[string]bool{"declined": true}, nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, InternalError, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{JSONRPC: "2.0", Result: result, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message, Data: data}, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addrStrings(n *node.Node) []string {
	addrs := n.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
