package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/mcpbridge/internal/jsonrpc"
)

// maxBodyBytes bounds an inbound JSON-RPC message.
const maxBodyBytes = 8 * 1024 * 1024

// handleRPC is the bridge endpoint: one JSON-RPC message in the POST body,
// forwarded to the named server's child process. Notifications are
// acknowledged with an empty 204. Every per-request failure comes back as
// a JSON-RPC error object, never a bodyless transport error.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	b, err := s.registry.Get(name)
	if err != nil {
		// Routing failures still answer in JSON-RPC, just with a real
		// status: there is no server whose transport could have worked.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(jsonrpc.ErrorResponse(nil, "unknown server: "+name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPCError(w, nil, "reading request body: "+err.Error())
		return
	}

	env, err := jsonrpc.Decode(body)
	if err != nil {
		writeRPCError(w, nil, err.Error())
		return
	}

	clientID, _ := env.ID()

	resp, err := b.Handle(r.Context(), env)
	if err != nil {
		log.Warn().Err(err).Str("server", name).Str("method", env.Method()).Msg("bridge request failed")
		writeRPCError(w, clientID, err.Error())
		return
	}

	// Notifications are fire-and-forget: no body, no table entry.
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := resp.Encode()
	if err != nil {
		writeRPCError(w, clientID, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDescriptor returns the static service descriptor for one server,
// including a ready-to-paste client configuration snippet.
func (s *Server) handleDescriptor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status, ok := s.registry.Status(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown server: "+name)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	url := scheme + "://" + r.Host + "/servers/" + name

	descriptor := map[string]any{
		"name":        name,
		"version":     "1.0.0",
		"transport":   "streamable_http",
		"description": "stdio MCP server exposed over HTTP",
		"state":       status.State,
		"client_config": map[string]any{
			name: map[string]string{
				"url":       url,
				"transport": "streamable_http",
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(descriptor)
}

// writeRPCError responds 200 with a JSON-RPC error object carrying the
// caller's original id (or null). The status stays 200 because the bridge
// transport worked; the failure belongs to the proxied call.
func writeRPCError(w http.ResponseWriter, id json.RawMessage, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jsonrpc.ErrorResponse(id, message))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
