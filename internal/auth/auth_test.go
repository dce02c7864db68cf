package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		cfg        Config
		method     string
		path       string
		header     string
		wantStatus int
	}{
		{"disabled", Config{}, "POST", "/api/v1/mrm/emergency_stop/operate", "", http.StatusNoContent},
		{"public path", Config{Enabled: true, Token: "s3cret"}, "GET", "/api/v1/mrm/emergency_stop/status", "", http.StatusNoContent},
		{"missing token", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/mrm/emergency_stop/operate", "", http.StatusUnauthorized},
		{"wrong scheme", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/mrm/emergency_stop/operate", "s3cret", http.StatusUnauthorized},
		{"wrong token", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/control/control_cmd", "Bearer nope", http.StatusUnauthorized},
		{"valid token", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/control/control_cmd", "Bearer s3cret", http.StatusNoContent},
		{"stream read", Config{Enabled: true, Token: "s3cret"}, "GET", "/api/v1/mrm/emergency_stop/status/stream", "", http.StatusNoContent},
		{"dashboard", Config{Enabled: true, Token: "s3cret"}, "HEAD", "/", "", http.StatusNoContent},
		{"health path any method", Config{Enabled: true, Token: "s3cret"}, "POST", "/healthz", "", http.StatusNoContent},
		{"unlisted write denied", Config{Enabled: true, Token: "s3cret"}, "POST", "/api/v1/mrm/emergency_stop/reset", "", http.StatusUnauthorized},
		{"delete denied", Config{Enabled: true, Token: "s3cret"}, "DELETE", "/api/v1/mrm/emergency_stop/operate", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(tt.cfg)(ok).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
