package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"vigia/internal/incident"
	"vigia/internal/metrics"
	"vigia/internal/notify"
	"vigia/internal/overlay"
	"vigia/internal/stream"
)

// statusServer exposes the local dashboard surface: live status, the
// composited snapshot, the notification feed, recent incidents, history
// proxied from the backend, and Prometheus metrics.
type statusServer struct {
	live       *stream.LiveState
	feed       *notify.Feed
	ingestor   *incident.Ingestor
	compositor *overlay.Compositor
	manager    *stream.Manager
	history    *incident.Client
}

func newStatusServer(addr string, live *stream.LiveState, feed *notify.Feed,
	ingestor *incident.Ingestor, compositor *overlay.Compositor,
	manager *stream.Manager, history *incident.Client, m *metrics.Metrics) *http.Server {

	s := &statusServer{
		live:       live,
		feed:       feed,
		ingestor:   ingestor,
		compositor: compositor,
		manager:    manager,
		history:    history,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read", s.handleMarkAllRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{index:[0-9]+}", s.handleRemoveNotification).Methods(http.MethodDelete)
	r.HandleFunc("/incidents/recent", s.handleRecentIncidents).Methods(http.MethodGet)
	r.HandleFunc("/incidents", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/incidents/{id:[0-9]+}/status", s.handleUpdateStatus).Methods(http.MethodPut)
	r.HandleFunc("/stats/today", s.handleTodayStats).Methods(http.MethodGet)
	r.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/stream/start", s.handleStartStream).Methods(http.MethodPost)
	r.HandleFunc("/stream/stop", s.handleStopStream).Methods(http.MethodPost)
	r.HandleFunc("/config", s.handlePushConfig).Methods(http.MethodPost)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *statusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.live.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection":        snap.Connection.String(),
		"last_error":        snap.LastError,
		"is_streaming":      snap.IsStreaming,
		"stream_url":        snap.StreamURL,
		"fps":               snap.FPS,
		"fps_low":           snap.FPSLow,
		"frame_id":          snap.FrameID,
		"persons":           len(snap.Detections),
		"violence_detected": snap.Violence.Detected,
		"violence_score":    snap.Violence.Score,
		"violence_class":    snap.Violence.Class,
		"unread":            s.feed.Unread(),
		"notifications":     s.feed.Len(),
	})
}

func (s *statusServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, err := s.compositor.JPEG()
	if err != nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Write(frame)
}

func (s *statusServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	entries := s.feed.Entries()
	out := make([]map[string]interface{}, 0, len(entries))
	for _, n := range entries {
		e := map[string]interface{}{
			"id":        n.ID,
			"type":      n.Type,
			"message":   n.Message,
			"details":   n.Details,
			"timestamp": n.Timestamp,
			"read":      n.Read,
		}
		if n.IncidentID != 0 {
			e["incident_id"] = n.IncidentID
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unread":        s.feed.Unread(),
		"notifications": out,
	})
}

func (s *statusServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	s.feed.MarkAllRead()
	writeJSON(w, http.StatusOK, map[string]int{"unread": s.feed.Unread()})
}

func (s *statusServer) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || !s.feed.Remove(index) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": s.feed.Unread()})
}

func (s *statusServer) handleRecentIncidents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ingestor.Recent())
}

func (s *statusServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := incident.Filter{Status: q.Get("status")}
	if v := q.Get("skip"); v != "" {
		filter.Skip, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("start_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := q.Get("end_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}

	incidents, err := s.history.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *statusServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid incident id", http.StatusBadRequest)
		return
	}
	updated, err := s.history.UpdateStatus(r.Context(), id, r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *statusServer) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.TodayStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *statusServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Connect(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"connection": s.manager.State().String()})
}

func (s *statusServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.manager.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"connection": s.manager.State().String()})
}

func (s *statusServer) handleStartStream(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.manager.StartStream())
}

func (s *statusServer) handleStopStream(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.manager.StopStream())
}

func (s *statusServer) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid config payload", http.StatusBadRequest)
		return
	}
	s.command(w, s.manager.PushConfig(cfg))
}

// command maps a fire-and-forget stream command result to HTTP.
func (s *statusServer) command(w http.ResponseWriter, err error) {
	if errors.Is(err, stream.ErrNotConnected) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
