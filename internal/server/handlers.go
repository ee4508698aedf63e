package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"verimesh/internal/dataType"
)

const (
	// SignatureHeader carries the HMAC-SHA512 of the request body.
	SignatureHeader = "X-Verimesh-Signature"

	GossipMaxSkew = 2 * time.Minute
	GossipMaxAge  = 10 * time.Minute
)

// HandleGossip is the inbound peer endpoint. The gate order is:
// signature, message id, known origin, replay windows. Anything that
// fails authenticity is rejected before the body is interpreted.
func (s *Server) HandleGossip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("[WARNING] HandleGossip: Failed to close request body: %v", err)
		}
	}()

	signatureHeader := r.Header.Get(SignatureHeader)
	if signatureHeader == "" {
		log.Printf("[SECURITY] Missing signature from %s", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if !s.signer.Verify(body, signatureHeader) {
		log.Printf("[SECURITY] Invalid signature from %s", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var msg dataType.GossipMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if msg.ID == "" {
		log.Printf("[SECURITY] Empty message id from %s", r.RemoteAddr)
		http.Error(w, "Forbidden: Empty Message ID", http.StatusForbidden)
		return
	}
	if _, err := uuid.Parse(msg.ID); err != nil {
		log.Printf("[SECURITY] Invalid message id from %s: %q", r.RemoteAddr, msg.ID)
		http.Error(w, "Forbidden: Invalid Message ID", http.StatusForbidden)
		return
	}

	if _, known := s.reg.Get(msg.OriginNode); !known {
		log.Printf("[SECURITY] Received gossip from unknown node: %s", msg.OriginNode)
		http.Error(w, "Forbidden: Unknown OriginNode", http.StatusForbidden)
		return
	}

	// Replay protection. Old and future messages are acked but not
	// applied, so a laggy peer does not trigger a retry storm.
	now := time.Now()
	msgTime := time.Unix(msg.Timestamp, 0)
	if now.Sub(msgTime) > GossipMaxAge {
		log.Printf("[SECURITY] Dropped old gossip from %s: ts=%d", msg.OriginNode, msg.Timestamp)
		writeAck(w)
		return
	}
	if msgTime.Sub(now) > GossipMaxSkew {
		log.Printf("[SECURITY] Dropped future gossip from %s: ts=%d", msg.OriginNode, msg.Timestamp)
		writeAck(w)
		return
	}

	s.gsp.HandleMessage(msg)
	writeAck(w)
}

func writeAck(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ACK")); err != nil {
		log.Printf("[ERROR] Failed to write ACK response: %v", err)
	}
}

type verifyRequest struct {
	Kind         dataType.TaskKind `json:"kind"`
	Target       string            `json:"target"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

// handleVerify is the client entry point: submit a claim, get a task id.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	taskID, err := s.engine.StartVerification(req.Kind, req.Target, req.Requirements)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"task_id": taskID})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("id")
	task, ok := s.engine.Task(taskID)
	if !ok {
		http.Error(w, "Unknown task", http.StatusNotFound)
		return
	}
	resp := map[string]any{"task": task}
	if outcome, closed := s.engine.Verdict(taskID); closed {
		resp["verdict"] = outcome.Verdict
		if outcome.FailureReason != "" {
			resp["failure_reason"] = outcome.FailureReason
		}
	}
	writeJSON(w, resp)
}

// handleStatus returns the peer/task/consensus summary counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	peers := s.reg.AllPeers()
	counts := map[dataType.NodeStatus]int{}
	for _, p := range peers {
		counts[p.Status]++
	}

	writeJSON(w, map[string]any{
		"node":    s.cfg.NodeName,
		"version": dataType.VerimeshVersion,
		"view":    s.cons.View(),
		"primary": s.cons.Primary(s.cons.View()),
		"peers": map[string]int{
			"total":     len(peers),
			"active":    counts[dataType.NodeActive],
			"suspected": counts[dataType.NodeSuspected],
			"failed":    counts[dataType.NodeFailed],
		},
		"quorum":    s.reg.QuorumSize(),
		"tasks":     s.engine.Counts(),
		"proposals": s.cons.Counts(),
		"suspects":  len(s.cons.Suspects()),
		"agents":    s.lifeval.AgentCount(),
	})
}

func (s *Server) handleConvergence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.gsp.ConvergenceMetrics())
}

func (s *Server) handleSuspects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cons.Suspects())
}

func (s *Server) handleValidations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.lifeval.History().Snapshot())
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var builder strings.Builder
	builder.WriteString("ok\n")
	builder.WriteString("version=")
	builder.WriteString(dataType.VerimeshVersion)
	builder.WriteString("\n")
	builder.WriteString("time=")
	builder.WriteString(time.Now().Format(time.RFC3339))
	builder.WriteString("\n")
	builder.WriteString("ts=")
	builder.WriteString(strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 3, 64))
	builder.WriteString("\n")
	builder.WriteString("node=")
	builder.WriteString(s.cfg.NodeName)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(builder.String())); err != nil {
		log.Printf("[ERROR] Failed to write health response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] Failed to encode response: %v", err)
	}
}
