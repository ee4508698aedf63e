package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"verimesh/internal/config"
	"verimesh/internal/consensus"
	"verimesh/internal/dataType"
	"verimesh/internal/events"
	"verimesh/internal/gossip"
	"verimesh/internal/lifecycle"
	"verimesh/internal/registry"
	"verimesh/internal/telemetry"
	"verimesh/internal/utils"
	"verimesh/internal/verify"
)

func testStack(t *testing.T) (*Server, *config.MainConfig) {
	t.Helper()
	cfg := &config.MainConfig{
		Port:                 "26656",
		WebPath:              "/verimesh",
		NodeName:             "test-node",
		GlobalSecret:         "test-secret-key-1234",
		Fanout:               3,
		GossipIntervalMs:     1000,
		ValidationTimeoutMs:  5000,
		ConsensusThreshold:   0.66,
		HeartbeatIntervalMs:  5000,
		MaxValidationHistory: 100,
		MaxAgents:            16,
		AvailableMemoryMB:    2048,
		AvailableCPUCores:    4,
		SupportedAgentTypes:  []string{"worker", "monitor"},
		MinActivePeers:       0,
	}

	signer := utils.NewHMACSigner(cfg.GlobalSecret)
	bus := events.NewBus()
	metrics := telemetry.New(cfg.NodeName)
	reg := registry.NewRegistry(cfg.HeartbeatInterval(), bus, nil)
	if err := reg.AddPeer(cfg.NodeName, "http://localhost:26656"); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddPeer("valid-peer", "http://localhost:26657"); err != nil {
		t.Fatal(err)
	}

	net := gossip.NewMemoryNetwork()
	net.Attach("valid-peer", func(dataType.GossipMessage) {})
	gsp := gossip.NewCoordinator(cfg, reg, net, bus, metrics, nil)
	lifeval := lifecycle.NewValidator(cfg, bus, func() int { return len(reg.ActivePeers()) }, nil)
	engine := verify.NewEngine(cfg, reg, gsp, lifeval, bus, metrics, nil)
	cons := consensus.NewCoordinator(cfg, reg, gsp, signer, bus, metrics, nil)
	engine.SetStateProber(cons.ConsistencyProbe)

	return New(cfg, reg, gsp, engine, cons, lifeval, signer, metrics, nil), cfg
}

func sign(cfg *config.MainConfig, body []byte) string {
	mac := hmac.New(sha512.New, []byte(cfg.GlobalSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedGossipRequest(cfg *config.MainConfig, msg dataType.GossipMessage) *http.Request {
	body, _ := json.Marshal(msg)
	req := httptest.NewRequest("POST", cfg.WebPath+"/gossip", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sign(cfg, body))
	return req
}

func heartbeatMsg() dataType.GossipMessage {
	return dataType.GossipMessage{
		Type:       dataType.GossipTypeHeartbeat,
		ID:         uuid.New().String(),
		Timestamp:  time.Now().Unix(),
		OriginNode: "valid-peer",
		Content:    "valid-peer",
	}
}

func TestHandleGossipSecurity(t *testing.T) {
	t.Run("RejectMissingSignature", func(t *testing.T) {
		srv, cfg := testStack(t)
		body, _ := json.Marshal(heartbeatMsg())
		req := httptest.NewRequest("POST", cfg.WebPath+"/gossip", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		srv.HandleGossip(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status Forbidden (403), got %d", w.Code)
		}
	})

	t.Run("RejectInvalidSignature", func(t *testing.T) {
		srv, cfg := testStack(t)
		body, _ := json.Marshal(heartbeatMsg())
		req := httptest.NewRequest("POST", cfg.WebPath+"/gossip", bytes.NewBuffer(body))
		req.Header.Set(SignatureHeader, "deadbeef")
		w := httptest.NewRecorder()
		srv.HandleGossip(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status Forbidden (403), got %d", w.Code)
		}
	})

	t.Run("RejectEmptyMessageID", func(t *testing.T) {
		srv, cfg := testStack(t)
		msg := heartbeatMsg()
		msg.ID = ""
		w := httptest.NewRecorder()
		srv.HandleGossip(w, signedGossipRequest(cfg, msg))

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status Forbidden (403), got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Empty Message ID") {
			t.Errorf("Expected response body to contain 'Empty Message ID', got %q", w.Body.String())
		}
	})

	t.Run("RejectInvalidUUID", func(t *testing.T) {
		srv, cfg := testStack(t)
		msg := heartbeatMsg()
		msg.ID = "not-a-uuid"
		w := httptest.NewRecorder()
		srv.HandleGossip(w, signedGossipRequest(cfg, msg))

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status Forbidden (403), got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Invalid Message ID") {
			t.Errorf("Expected response body to contain 'Invalid Message ID', got %q", w.Body.String())
		}
	})

	t.Run("RejectUnknownOrigin", func(t *testing.T) {
		srv, cfg := testStack(t)
		msg := heartbeatMsg()
		msg.OriginNode = "intruder"
		w := httptest.NewRecorder()
		srv.HandleGossip(w, signedGossipRequest(cfg, msg))

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status Forbidden (403), got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Unknown OriginNode") {
			t.Errorf("Expected response body to contain 'Unknown OriginNode', got %q", w.Body.String())
		}
	})

	t.Run("AcceptValidMessage", func(t *testing.T) {
		srv, cfg := testStack(t)
		msg := heartbeatMsg()
		w := httptest.NewRecorder()
		srv.HandleGossip(w, signedGossipRequest(cfg, msg))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status OK (200), got %d", w.Code)
		}
		if w.Body.String() != "ACK" {
			t.Errorf("Expected ACK body, got %q", w.Body.String())
		}
		if !srv.gsp.HasSeen(msg.ID) {
			t.Error("accepted message should be applied")
		}
	})

	t.Run("AckButDropOldMessage", func(t *testing.T) {
		srv, cfg := testStack(t)
		msg := heartbeatMsg()
		msg.Timestamp = time.Now().Add(-GossipMaxAge - time.Minute).Unix()
		w := httptest.NewRecorder()
		srv.HandleGossip(w, signedGossipRequest(cfg, msg))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status OK (200), got %d", w.Code)
		}
		if srv.gsp.HasSeen(msg.ID) {
			t.Error("replayed old message must not be applied")
		}
	})

	t.Run("AckButDropFutureMessage", func(t *testing.T) {
		srv, cfg := testStack(t)
		msg := heartbeatMsg()
		msg.Timestamp = time.Now().Add(GossipMaxSkew + time.Minute).Unix()
		w := httptest.NewRecorder()
		srv.HandleGossip(w, signedGossipRequest(cfg, msg))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status OK (200), got %d", w.Code)
		}
		if srv.gsp.HasSeen(msg.ID) {
			t.Error("future-dated message must not be applied")
		}
	})

	t.Run("RejectGet", func(t *testing.T) {
		srv, cfg := testStack(t)
		req := httptest.NewRequest("GET", cfg.WebPath+"/gossip", nil)
		w := httptest.NewRecorder()
		srv.HandleGossip(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status MethodNotAllowed (405), got %d", w.Code)
		}
	})
}

func TestVerifyEndpoint(t *testing.T) {
	srv, cfg := testStack(t)
	handler := srv.Handler()

	payload := `{"kind":"agent_spawning","target":"agent-1","requirements":{"agent_type":"worker"}}`
	req := httptest.NewRequest("POST", cfg.WebPath+"/verify", strings.NewReader(payload))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("verify returned %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad verify response: %v", err)
	}
	taskID := resp["task_id"]
	if taskID == "" {
		t.Fatal("verify response missing task_id")
	}

	t.Run("TaskLookup", func(t *testing.T) {
		req := httptest.NewRequest("GET", cfg.WebPath+"/task?id="+taskID, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("task lookup returned %d", w.Code)
		}
	})

	t.Run("UnknownTask", func(t *testing.T) {
		req := httptest.NewRequest("GET", cfg.WebPath+"/task?id=nope", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("unknown task returned %d, want 404", w.Code)
		}
	})

	t.Run("RejectBadKind", func(t *testing.T) {
		req := httptest.NewRequest("POST", cfg.WebPath+"/verify",
			strings.NewReader(`{"kind":"mind_reading","target":"agent-1"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("bad kind returned %d, want 400", w.Code)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	srv, cfg := testStack(t)
	req := httptest.NewRequest("GET", cfg.WebPath+"/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status returned %d", w.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad status JSON: %v", err)
	}
	if status["node"] != "test-node" {
		t.Errorf("node = %v, want test-node", status["node"])
	}
	if status["version"] != dataType.VerimeshVersion {
		t.Errorf("version = %v, want %s", status["version"], dataType.VerimeshVersion)
	}
	peers, ok := status["peers"].(map[string]any)
	if !ok || peers["total"] != float64(2) {
		t.Errorf("peers = %v, want total 2", status["peers"])
	}
}

func TestHealthCheckEndpoint(t *testing.T) {
	srv, cfg := testStack(t)
	req := httptest.NewRequest("GET", cfg.WebPath+"/health_check", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health_check returned %d", w.Code)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "ok\n") {
		t.Errorf("body should start with ok, got %q", body)
	}
	if !strings.Contains(body, "node=test-node") {
		t.Errorf("body should carry the node name, got %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testStack(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "verimesh_uptime_seconds") {
		t.Error("metrics output missing verimesh_uptime_seconds")
	}
}

func TestHTTPTransportSendsSignedGossip(t *testing.T) {
	srv, cfg := testStack(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	transport := NewHTTPTransport(cfg.WebPath, utils.NewHMACSigner(cfg.GlobalSecret))
	msg := heartbeatMsg()
	err := transport.Send(dataType.Node{ID: "test-node", Endpoint: ts.URL}, msg)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !srv.gsp.HasSeen(msg.ID) {
		t.Error("message delivered over HTTP should be applied")
	}

	t.Run("WrongSecretRejected", func(t *testing.T) {
		bad := NewHTTPTransport(cfg.WebPath, utils.NewHMACSigner("another-secret-key-5678"))
		if err := bad.Send(dataType.Node{ID: "test-node", Endpoint: ts.URL}, heartbeatMsg()); err == nil {
			t.Error("send signed with the wrong secret should fail")
		}
	})
}
