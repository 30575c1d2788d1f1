package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

type connectionsResponse struct {
	types.ConnectionStats
	Devices []types.DeviceSummary `json:"devices"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := service.DeviceQuery{}

	if t := r.URL.Query().Get("type"); t != "" {
		typ, err := types.ParseDeviceType(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_device_type", err.Error(), nil)
			return
		}
		q.Type = typ
	}
	online, ok := queryBool(r, "online")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "online must be true or false", nil)
		return
	}
	q.Online = online

	page, ok1 := queryInt(r, "page", 1)
	limit, ok2 := queryInt(r, "limit", 0)
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "invalid_query", "page and limit must be non-negative integers", nil)
		return
	}
	q.Page, q.Limit = page, limit

	res, err := s.devices.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, s.log, "list_devices", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	rep, err := s.devices.Stats(r.Context())
	if err != nil {
		writeServiceError(w, s.log, "device_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.devices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, s.log, "get_device", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateLocation accepts JSON or a protobuf google.protobuf.Struct
// with the same fields. The reply uses the request's encoding unless Accept
// asks otherwise.
func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var upd types.LocationUpdate

	if isProtobuf(r) {
		var st structpb.Struct
		if err := readProto(r, &st); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body", nil)
			return
		}
		u, err := locationUpdateFromStruct(&st)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", err.Error(), nil)
			return
		}
		upd = u
	} else if err := decodeJSONStrict(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	rec, err := s.telemetry.UpdateLocation(r.Context(), upd)
	if err != nil {
		writeServiceError(w, s.log, "update_location", err)
		return
	}

	if wantsProtobuf(r) {
		st, err := deviceToStruct(rec)
		if err != nil {
			writeServiceError(w, s.log, "update_location", err)
			return
		}
		writeProto(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var set types.DeviceSettings
	if err := decodeJSONStrict(r, &set); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	rec, err := s.devices.UpdateSettings(r.Context(), chi.URLParam(r, "id"), set)
	if err != nil {
		writeServiceError(w, s.log, "update_settings", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	acked, ok := queryBool(r, "acknowledged")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "acknowledged must be true or false", nil)
		return
	}
	alerts, err := s.devices.Alerts(r.Context(), chi.URLParam(r, "id"), acked)
	if err != nil {
		writeServiceError(w, s.log, "list_alerts", err)
		return
	}
	if alerts == nil {
		alerts = []types.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	alertID := strings.TrimSpace(chi.URLParam(r, "alertId"))
	if err := s.devices.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), alertID); err != nil {
		writeServiceError(w, s.log, "ack_alert", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "alertId": alertID})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, connectionsResponse{
		ConnectionStats: s.registry.Stats(),
		Devices:         s.registry.List(),
	})
}
