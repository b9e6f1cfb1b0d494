package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
	if _, ok := resp["kind"]; ok {
		t.Errorf("kind should be omitted, got %q", resp["kind"])
	}
}

func TestWriteJSONErrorKind(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONErrorKind(rec, http.StatusGatewayTimeout, "device_start_failed", "timed out")

	var resp ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout || resp.Kind != "device_start_failed" || resp.Error != "timed out" {
		t.Errorf("got %d %+v", rec.Code, resp)
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["count"] != 42 {
		t.Errorf("count = %d, want 42", resp["count"])
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		want int
	}{
		{"BadRequest", func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest},
		{"NotFound", func(w http.ResponseWriter) { NotFound(w, "missing") }, http.StatusNotFound},
		{"Conflict", func(w http.ResponseWriter) { Conflict(w, "busy") }, http.StatusConflict},
		{"InternalServerError", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet, http.MethodPut)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := rec.Header().Values("Allow"); len(got) != 2 {
		t.Errorf("Allow = %v, want GET and PUT", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		A int `json:"a"`
		B int `json:"b"`
	}

	tests := []struct {
		name    string
		body    string
		want    payload
		wantErr bool
	}{
		{"empty body keeps defaults", "", payload{A: 1, B: 2}, false},
		{"partial override", `{"b": 5}`, payload{A: 1, B: 5}, false},
		{"unknown field", `{"c": 1}`, payload{}, true},
		{"malformed", `{"a":`, payload{}, true},
		{"trailing value", `{"a": 3} {"a": 4}`, payload{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			got := payload{A: 1, B: 2}
			err := DecodeJSON(httptest.NewRecorder(), req, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeJSONTooLarge(t *testing.T) {
	t.Parallel()

	body := `{"a": "` + strings.Repeat("x", MaxRequestBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var v map[string]string
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); err == nil {
		t.Fatal("expected error for oversized body")
	}
}
