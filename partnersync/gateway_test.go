package partnersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"immersion/convention"
)

func TestHTTPGateway_SendsConventionPayload(t *testing.T) {
	var got broadcastBody
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	validated := time.Date(2024, 5, 13, 10, 0, 0, 0, time.UTC)
	gateway := NewHTTPGateway(server.URL, "partner-key")
	err := gateway.BroadcastConvention(context.Background(), convention.Convention{
		ID:            "conv-1",
		AgencyID:      "agency-1",
		Siret:         "13002526500013",
		Status:        convention.StatusValidated,
		DateValidated: &validated,
	})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if got.ConventionID != "conv-1" || got.Status != "VALIDATED" {
		t.Errorf("unexpected payload %+v", got)
	}
	if auth != "Bearer partner-key" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
}

func TestHTTPGateway_NonSuccessIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown agency", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	gateway := NewHTTPGateway(server.URL, "")
	err := gateway.BroadcastConvention(context.Background(), convention.Convention{ID: "conv-1"})
	if err == nil {
		t.Fatal("expected error on 422")
	}
}
