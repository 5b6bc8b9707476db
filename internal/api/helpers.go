package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rendis/shopsync/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCodedError maps a coordinator error to a status and writes
// {error, code}.
func writeCodedError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if code := schema.ErrorCode(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, httpStatus(err), body)
}

func httpStatus(err error) int {
	switch schema.ErrorCode(err) {
	case schema.ErrCodeValidation, schema.ErrCodeGraphConfiguration, schema.ErrCodeToolNotFound:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound, schema.ErrCodeConfigNotFound:
		return http.StatusNotFound
	case schema.ErrCodeWorkflowTimeout:
		return http.StatusGatewayTimeout
	case schema.ErrCodeShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
