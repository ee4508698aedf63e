package utils

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"verimesh/internal/dataType"
)

// Signer authenticates message content. The production scheme should be
// asymmetric (e.g. Ed25519); the shipped implementation is a keyed hash,
// which gives authenticity within the cluster secret's trust domain.
type Signer interface {
	Sign(content []byte) string
	Verify(content []byte, signature string) bool
}

// HMACSigner signs with HMAC-SHA512 over the cluster secret, hex encoded.
type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

func (s *HMACSigner) Sign(content []byte) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *HMACSigner) Verify(content []byte, signature string) bool {
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(content)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}

// ByzantineSignBytes is the canonical byte encoding a vote signature covers.
// Issuer identity is part of the content so a signature cannot be replayed
// under another node id, view, or phase.
func ByzantineSignBytes(msg *dataType.ByzantineMessage) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s|%t|%d",
		msg.NodeID, msg.View, msg.Phase, msg.ProposalID, msg.Result, msg.Timestamp))
}

// SignByzantineMessage fills msg.Signature in place.
func SignByzantineMessage(s Signer, msg *dataType.ByzantineMessage) {
	msg.Signature = s.Sign(ByzantineSignBytes(msg))
}

// VerifyByzantineMessage recomputes the expected signature for msg.
func VerifyByzantineMessage(s Signer, msg *dataType.ByzantineMessage) bool {
	if msg.Signature == "" {
		return false
	}
	return s.Verify(ByzantineSignBytes(msg), msg.Signature)
}
