package handler

import (
	"encoding/json"
	"net/http"
)

type statser interface {
	Stats() (connections, users int)
}

type health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
}

func ServeHealth(s statser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connections, users := s.Stats()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{
			Status:      "ok",
			Connections: connections,
			Users:       users,
		})
	}
}
