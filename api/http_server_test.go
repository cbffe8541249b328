package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kutluhann/kademlia-dht/dht"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	d := dht.New(dht.Contact{ID: dht.ID{0x01}, LastSeen: time.Now()}, nil)
	s, err := NewServer(d, 0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func doJSON(t *testing.T, handler http.HandlerFunc, method string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/", &buf)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleStoreAndGetRoundTrip(t *testing.T) {
	s := newTestServer(t)

	storeRec := doJSON(t, s.handleStore, http.MethodPost, StoreRequest{Key: "greeting", Value: "hello"})
	if storeRec.Code != http.StatusOK {
		t.Fatalf("handleStore status = %d, want 200 (body %s)", storeRec.Code, storeRec.Body.String())
	}
	var storeResp StoreResponse
	if err := json.Unmarshal(storeRec.Body.Bytes(), &storeResp); err != nil {
		t.Fatalf("decode store response: %v", err)
	}
	if !storeResp.Success {
		t.Fatalf("expected store to succeed, got %+v", storeResp)
	}

	getRec := doJSON(t, s.handleGet, http.MethodPost, GetRequest{Key: "greeting"})
	if getRec.Code != http.StatusOK {
		t.Fatalf("handleGet status = %d, want 200 (body %s)", getRec.Code, getRec.Body.String())
	}
	var getResp GetResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &getResp); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if getResp.Value != "hello" {
		t.Fatalf("handleGet value = %q, want %q", getResp.Value, "hello")
	}
	if getResp.KeyHash != storeResp.KeyHash {
		t.Fatalf("key hash mismatch between store (%s) and get (%s)", storeResp.KeyHash, getResp.KeyHash)
	}
}

func TestHandleGetMissingKeyReturnsNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.handleGet, http.MethodPost, GetRequest{Key: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("handleGet status = %d, want 404", rec.Code)
	}
}

func TestHandleStoreRejectsWrongMethod(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.handleStore, http.MethodGet, StoreRequest{Key: "x", Value: "y"})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("handleStore status = %d, want 405", rec.Code)
	}
}

func TestHandleStoreRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.handleStore, http.MethodPost, StoreRequest{Key: "", Value: "y"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("handleStore status = %d, want 400", rec.Code)
	}
}

func TestHandlePrivateStoreIsLocalAndEncrypted(t *testing.T) {
	s := newTestServer(t)

	storeRec := doJSON(t, s.handleStore, http.MethodPost, StoreRequest{Key: "secret", Value: "classified", Private: true})
	if storeRec.Code != http.StatusOK {
		t.Fatalf("handleStore status = %d, want 200", storeRec.Code)
	}

	_, id := keyHashFor("secret")
	if _, found, _ := s.DHT.FindValue(id); found {
		t.Fatalf("expected a private store to never land in the DHT's own storage")
	}

	getRec := doJSON(t, s.handleGet, http.MethodPost, GetRequest{Key: "secret"})
	var getResp GetResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &getResp); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if getResp.Value != "classified" {
		t.Fatalf("handleGet value = %q, want %q", getResp.Value, "classified")
	}
}

func TestHandleStatusReportsNodeState(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s.handleStore, http.MethodPost, StoreRequest{Key: "k", Value: "v"})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	if resp.StoredKeys != 1 {
		t.Fatalf("StoredKeys = %d, want 1", resp.StoredKeys)
	}
	if resp.NodeID != s.DHT.Node.OurContact.ID.String() {
		t.Fatalf("NodeID = %q, want %q", resp.NodeID, s.DHT.Node.OurContact.ID.String())
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("handleHealth status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("health status = %q, want %q", body["status"], "healthy")
	}
}

func TestHandleRoutingTableListsBuckets(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/routing-table", nil)
	rec := httptest.NewRecorder()
	s.handleRoutingTable(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("handleRoutingTable status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header to be set")
	}
}
