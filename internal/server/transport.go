package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"verimesh/internal/dataType"
	"verimesh/internal/gossip"
	"verimesh/internal/utils"
)

// HTTPTransport delivers gossip over POST with the body signed in the
// request header. A 200 is the peer's ack; anything else is a transient
// failure the next round retries.
type HTTPTransport struct {
	webPath string
	signer  utils.Signer
	client  *http.Client
}

var _ gossip.Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(webPath string, signer utils.Signer) *HTTPTransport {
	return &HTTPTransport{
		webPath: webPath,
		signer:  signer,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *HTTPTransport) Send(peer dataType.Node, msg dataType.GossipMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal gossip message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, peer.Endpoint+t.webPath+"/gossip", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("create request for peer %s: %w", peer.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, t.signer.Sign(data))

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned status %d", peer.ID, resp.StatusCode)
	}
	return nil
}
