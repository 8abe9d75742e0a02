package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer encodes Value as JSON with HTML escaping off.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// BytesRenderer writes an already encoded body.
//
// ContentType defaults to "application/json".
type BytesRenderer struct {
	Status      int
	ContentType string
	Body        []byte
}

func (br *BytesRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	ct := br.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(statusOr(br.Status, http.StatusOK))
	if len(br.Body) == 0 {
		return nil
	}
	_, err := w.Write(br.Body)
	return err
}

// NoContentRenderer writes only a status, 204 unless set.
type NoContentRenderer struct {
	Status int
}

func (nr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(statusOr(nr.Status, http.StatusNoContent))
	return nil
}

func statusOr(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}
