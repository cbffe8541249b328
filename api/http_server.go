// Package api exposes a thin HTTP control plane in front of a DHT: a
// client-facing convenience for storing and fetching values by
// human-readable key, distinct from the Kademlia RPC surface the DHT
// itself speaks to other nodes over UDP.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	eciesgo "github.com/ecies/go/v2"

	"github.com/kutluhann/kademlia-dht/constants"
	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/storage"
)

// StoreRequest is the JSON payload for storing data.
type StoreRequest struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Private bool   `json:"private"` // encrypt under this node's own key, serve only from local storage
}

type StoreResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	KeyHash string `json:"key_hash"`
}

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	KeyHash string `json:"key_hash"`
	Value   string `json:"value,omitempty"`
}

type StatusResponse struct {
	NodeID        string `json:"node_id"`
	StoredKeys    int    `json:"stored_keys"`
	KnownPeers    int    `json:"known_peers"`
	NetworkStatus string `json:"network_status"`
}

// Server wraps a DHT and serves a small set of client-facing HTTP
// endpoints against it.
type Server struct {
	DHT  *dht.DHT
	Port int

	privKey *eciesgo.PrivateKey
	private *storage.EncryptedStorage
}

// NewServer creates an HTTP control plane for d. A fresh ECIES keypair is
// generated to back the StoreRequest.Private path; it is process-local,
// so private values do not survive a restart.
func NewServer(d *dht.DHT, port int) (*Server, error) {
	privKey, err := eciesgo.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("api: generate private-store key: %w", err)
	}

	return &Server{
		DHT:     d,
		Port:    port,
		privKey: privKey,
		private: storage.NewEncryptedStorage(storage.NewMemoryStorage(), privKey.PublicKey),
	}, nil
}

// Start registers routes on a fresh mux and blocks serving HTTP on Port.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/store", s.handleStore)
	mux.HandleFunc("/get", s.handleGet)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/routing-table", s.handleRoutingTable)

	addr := fmt.Sprintf(":%d", s.Port)
	fmt.Printf("[HTTP-API] listening on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}

func keyHashFor(key string) ([32]byte, dht.ID) {
	hash := sha256.Sum256([]byte(key))
	var id dht.ID
	copy(id[:], hash[len(hash)-len(id):])
	return hash, id
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req StoreRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Key == "" || req.Value == "" {
		http.Error(w, "key and value are required", http.StatusBadRequest)
		return
	}

	hash, id := keyHashFor(req.Key)
	hashHex := hex.EncodeToString(hash[:])

	var storeErr error
	if req.Private {
		var storageKey storage.Key
		copy(storageKey[:], id[:])
		s.private.Store(storageKey, []byte(req.Value), constants.ExpirationTimeSec*time.Second)
	} else {
		storeErr = s.DHT.Store(id, []byte(req.Value))
	}

	if storeErr != nil {
		writeJSON(w, http.StatusInternalServerError, StoreResponse{
			Success: false, Message: fmt.Sprintf("store failed: %v", storeErr), KeyHash: hashHex,
		})
		return
	}
	writeJSON(w, http.StatusOK, StoreResponse{Success: true, Message: "stored", KeyHash: hashHex})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var req GetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	hash, id := keyHashFor(req.Key)
	hashHex := hex.EncodeToString(hash[:])

	var storageKey storage.Key
	copy(storageKey[:], id[:])
	if ciphertext, ok := s.private.Get(storageKey); ok {
		plaintext, err := storage.Decrypt(s.privKey, ciphertext)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, GetResponse{Success: false, Message: "decrypt failed", KeyHash: hashHex})
			return
		}
		writeJSON(w, http.StatusOK, GetResponse{Success: true, KeyHash: hashHex, Value: string(plaintext)})
		return
	}

	value, found, err := s.DHT.FindValue(id)
	if err != nil || !found {
		msg := "key not found"
		if err != nil {
			msg = err.Error()
		}
		writeJSON(w, http.StatusNotFound, GetResponse{Success: false, Message: msg, KeyHash: hashHex})
		return
	}
	writeJSON(w, http.StatusOK, GetResponse{Success: true, KeyHash: hashHex, Value: string(value)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		NodeID:        s.DHT.Node.OurContact.ID.String(),
		StoredKeys:    len(s.DHT.Node.Store_.Keys()),
		KnownPeers:    len(s.DHT.Node.Buckets.Contacts()),
		NetworkStatus: "connected",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRoutingTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	type bucketInfo struct {
		Low, High string
		Contacts  int
	}
	var info []bucketInfo
	for _, b := range s.DHT.Node.Buckets.Buckets() {
		info = append(info, bucketInfo{Low: b.Low().String(), High: b.High().String(), Contacts: b.Len()})
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
