package authmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// serve runs h for a request carrying the given Authorization header (none
// when empty) and reports the status and whether the wrapped handler ran.
func serve(t *testing.T, mw func(http.Handler) http.Handler, authorization string) (int, string, bool) {
	t.Helper()

	var reached bool
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/incidents", http.NoBody)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, strings.TrimSpace(rec.Body.String()), reached
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	const token = "ledger-api-token"

	tests := []struct {
		name          string
		authorization string
		wantStatus    int
	}{
		{"matching token", "Bearer " + token, http.StatusAccepted},
		{"no header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic ZGV0ZWN0b3I6cGFzcw==", http.StatusUnauthorized},
		{"scheme is case sensitive", "bearer " + token, http.StatusUnauthorized},
		{"bare token", token, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"prefix of token", "Bearer ledger-api", http.StatusUnauthorized},
		{"token plus suffix", "Bearer " + token + "-old", http.StatusUnauthorized},
		{"different token", "Bearer detector-sweep-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, body, reached := serve(t, BearerToken(token), tt.authorization)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if wantReach := tt.wantStatus == http.StatusAccepted; reached != wantReach {
				t.Errorf("handler reached = %v, want %v", reached, wantReach)
			}
			if tt.wantStatus == http.StatusUnauthorized && body != `{"error":"Unauthorized"}` {
				t.Errorf("body = %q", body)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		token         string
		authorization string
		wantStatus    int
	}{
		{"unconfigured passes anonymous", "", "", http.StatusAccepted},
		{"unconfigured ignores header", "", "Bearer whatever", http.StatusAccepted},
		{"configured rejects anonymous", "sweep-token", "", http.StatusUnauthorized},
		{"configured accepts token", "sweep-token", "Bearer sweep-token", http.StatusAccepted},
		{"configured rejects wrong token", "sweep-token", "Bearer alert-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, _, _ := serve(t, Optional(tt.token), tt.authorization)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}
