package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

type commandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type messageRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type resolutionView struct {
	Status     types.CommandStatus `json:"status"`
	Response   json.RawMessage     `json:"response,omitempty"`
	ResolvedAt time.Time           `json:"resolvedAt"`
	Reason     string              `json:"reason,omitempty"`
}

type commandResponse struct {
	Command types.CommandRecord `json:"command"`
	Result  *resolutionView     `json:"result,omitempty"`
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	cmd, err := service.DecodeCommand(req.Command, req.Payload)
	if err != nil {
		writeServiceError(w, s.log, "send_command", err)
		return
	}

	rec, err := s.commands.Issue(r.Context(), chi.URLParam(r, "id"), cmd)
	if err != nil {
		writeServiceError(w, s.log, "send_command", err)
		return
	}
	s.respondCommand(w, r, rec)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	rec, err := s.commands.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Title, req.Message)
	if err != nil {
		writeServiceError(w, s.log, "send_message", err)
		return
	}
	s.respondCommand(w, r, rec)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	rec, err := s.commands.Lock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.log, "lock", err)
		return
	}
	s.respondCommand(w, r, rec)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	rec, err := s.commands.Ping(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.log, "ping", err)
		return
	}
	s.respondCommand(w, r, rec)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer", nil)
		return
	}
	cmds, err := s.commands.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, s.log, "list_commands", err)
		return
	}
	if cmds == nil {
		cmds = []types.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	typ, err := types.ParseDeviceType(chi.URLParam(r, "type"))
	if err != nil {
		writeServiceError(w, s.log, "broadcast", err)
		return
	}
	var req commandRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	cmd, err := service.DecodeCommand(req.Command, req.Payload)
	if err != nil {
		writeServiceError(w, s.log, "broadcast", err)
		return
	}

	sent, err := s.commands.Broadcast(r.Context(), typ, cmd)
	if err != nil {
		writeServiceError(w, s.log, "broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": typ, "command": cmd.Name, "sent": sent})
}

// respondCommand replies 202 with the record, or with ?wait=true blocks for
// the device's confirmation and replies 200 with the outcome. Commands queued
// for a polling agent are never waited on.
func (s *Server) respondCommand(w http.ResponseWriter, r *http.Request, rec types.CommandRecord) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait || rec.Status == types.CommandQueued {
		writeJSON(w, http.StatusAccepted, commandResponse{Command: rec})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandWait)
	defer cancel()
	res, err := s.commands.Await(ctx, rec.RequestID)
	switch {
	case err == nil:
		rec.Status = res.Status
		at := res.ResolvedAt
		rec.ResolvedAt = &at
		rec.Response = res.Response
		writeJSON(w, http.StatusOK, commandResponse{
			Command: rec,
			Result: &resolutionView{
				Status:     res.Status,
				Response:   res.Response,
				ResolvedAt: res.ResolvedAt,
				Reason:     res.Reason,
			},
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusAccepted, commandResponse{Command: rec})
	default:
		writeServiceError(w, s.log, "await_command", err)
	}
}
