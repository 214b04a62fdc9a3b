package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/core"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime   int64           `json:"uptime_seconds"`
	Stats    *access.Stats   `json:"stats,omitempty"`
	Backends map[string]bool `json:"backends,omitempty"`
	Webhooks int             `json:"webhooks"`
}

// userJSON is one entry of GET /api/users.
type userJSON struct {
	ID         string     `json:"id"`
	Handle     string     `json:"handle,omitempty"`
	AnonTag    int        `json:"anon_tag"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
	Admin      bool       `json:"admin"`
	Allowed    bool       `json:"allowed"`
	Banned     bool       `json:"banned"`
}

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:   int64(time.Since(s.startedAt).Seconds()),
			Backends: backendReport(s.gateway),
			Webhooks: s.dispatcher.Sources(),
		}
		if s.store != nil {
			st := s.store.Stats()
			resp.Stats = &st
		}
		writeJSON(w, resp)
	}
}

// handleState returns the full access state snapshot.
func (s *Server) handleState() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.store == nil {
			http.Error(w, "store not available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, s.store.Snapshot())
	}
}

// handleUsers lists known principals with their moderation flags.
func (s *Server) handleUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.store == nil {
			http.Error(w, "store not available", http.StatusServiceUnavailable)
			return
		}
		now := s.store.Now()
		users := s.store.Users()
		out := make([]userJSON, 0, len(users))
		for _, id := range s.store.UserIDs() {
			u := users[id]
			entry := userJSON{
				ID:      id,
				Handle:  u.Handle,
				AnonTag: u.AnonTag,
			}
			if u.Handle != "" {
				entry.Admin = s.store.IsAdmin(u.Handle)
				entry.Allowed = s.store.IsAllowed(u.Handle)
				entry.Banned = s.store.IsBanned(u.Handle)
			}
			if s.store.IsMuted(id, now) {
				until := u.MutedUntil
				entry.MutedUntil = &until
			}
			out = append(out, entry)
		}
		writeJSON(w, out)
	}
}

// handleModules lists the registered modules.
func (s *Server) handleModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
			})
		}
		writeJSON(w, out)
	}
}
