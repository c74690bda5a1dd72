package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"skiff/cmd/internal/messaging"
)

func TestNewClientRejectsRelativeURL(t *testing.T) {
	cases := []string{"", "   ", "/api", "example.com/api", "://bad"}
	for _, base := range cases {
		if _, err := NewClient(nil, base, ""); err == nil {
			t.Fatalf("expected rejection for base url %q", base)
		}
	}
	if _, err := NewClient(nil, "https://api.example.com/", "tok"); err != nil {
		t.Fatalf("absolute url must be accepted, got %v", err)
	}
}

func TestKindForStatus(t *testing.T) {
	cases := []struct {
		status int
		want   messaging.Kind
	}{
		{http.StatusUnauthorized, messaging.KindAuthentication},
		{http.StatusForbidden, messaging.KindAuthorization},
		{http.StatusBadRequest, messaging.KindValidation},
		{http.StatusUnprocessableEntity, messaging.KindValidation},
		{http.StatusTooManyRequests, messaging.KindValidation},
		{http.StatusInternalServerError, messaging.KindServer},
		{http.StatusBadGateway, messaging.KindServer},
		{http.StatusNotFound, messaging.KindUnknown},
		{http.StatusConflict, messaging.KindUnknown},
	}
	for _, tc := range cases {
		if got := kindForStatus(tc.status); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.want, got)
		}
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(nil, srv.URL, "secret-token")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := NewMessageClient(c).MessagesByConversation(context.Background(), "conv_1"); err != nil {
		t.Fatalf("MessagesByConversation: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestClientParsesStructuredAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"BOOKING_ACCESS_DENIED","message":"not a participant"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(nil, srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = NewMessageClient(c).MessagesByConversation(context.Background(), "conv_1")
	if messaging.KindOf(err) != messaging.KindAuthorization {
		t.Fatalf("expected authorization kind, got %s (%v)", messaging.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "not a participant") || !strings.Contains(err.Error(), "BOOKING_ACCESS_DENIED") {
		t.Fatalf("expected server message and code in the error, got %v", err)
	}
}

func TestClientClassifiesTransportFailureAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c, err := NewClient(nil, srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = NewMessageClient(c).MessagesByConversation(context.Background(), "conv_1")
	if messaging.KindOf(err) != messaging.KindNetwork {
		t.Fatalf("expected network kind for refused connection, got %s (%v)", messaging.KindOf(err), err)
	}
}
