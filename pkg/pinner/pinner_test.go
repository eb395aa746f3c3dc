package pinner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPinJSON(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody struct {
		PinataContent json.RawMessage `json:"pinataContent"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "bafytesthash"})
	}))
	defer srv.Close()

	p := New("test-jwt", WithBaseURL(srv.URL))

	uri, err := p.PinJSON(context.Background(), []byte(`{"name":"doc"}`))
	if err != nil {
		t.Fatalf("PinJSON: %v", err)
	}

	if uri != "https://bafytesthash.ipfs.dweb.link/" {
		t.Errorf("uri = %q", uri)
	}
	if gotAuth != "Bearer test-jwt" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/pinning/pinJSONToIPFS" {
		t.Errorf("path = %q", gotPath)
	}
	if string(gotBody.PinataContent) != `{"name":"doc"}` {
		t.Errorf("pinned content = %s", gotBody.PinataContent)
	}
}

func TestPinJSON_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New("bad-jwt", WithBaseURL(srv.URL))

	_, err := p.PinJSON(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %v does not carry the status code", err)
	}
}

func TestPinJSON_MissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	p := New("jwt", WithBaseURL(srv.URL))

	if _, err := p.PinJSON(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for response without content hash")
	}
}

func TestPinJSON_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := New("jwt", WithBaseURL(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.PinJSON(ctx, []byte(`{}`)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
