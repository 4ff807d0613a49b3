package shoperr

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// WriteJSON writes a JSON response body with the headers every coffeeshop
// response carries. Results must not be cached: the same ticket can resolve
// differently before and after its row lands in the table.
func WriteJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithFields(log.Fields{
			"err":    err,
			"status": statusCode,
		}).Error("failed to encode response body")
	}
}

// Write shapes an error into its envelope and writes it as the response.
func Write(w http.ResponseWriter, err error) {
	var s = Coerce(err)
	WriteJSON(w, s.StatusCode, s)
}
