package utils

import (
	"testing"
	"time"

	"verimesh/internal/dataType"
)

func TestHMACSigner(t *testing.T) {
	signer := NewHMACSigner("test-secret-key-1234")

	t.Run("RoundTrip", func(t *testing.T) {
		content := []byte("hello mesh")
		sig := signer.Sign(content)
		if !signer.Verify(content, sig) {
			t.Error("signature should verify against original content")
		}
	})

	t.Run("RejectTamperedContent", func(t *testing.T) {
		sig := signer.Sign([]byte("original"))
		if signer.Verify([]byte("tampered"), sig) {
			t.Error("signature must not verify against different content")
		}
	})

	t.Run("RejectWrongSecret", func(t *testing.T) {
		other := NewHMACSigner("another-secret-key-5678")
		content := []byte("payload")
		if other.Verify(content, signer.Sign(content)) {
			t.Error("signature from another secret must not verify")
		}
	})

	t.Run("RejectNonHexSignature", func(t *testing.T) {
		if signer.Verify([]byte("payload"), "not-hex!!") {
			t.Error("malformed signature must not verify")
		}
	})
}

func TestByzantineMessageSigning(t *testing.T) {
	signer := NewHMACSigner("test-secret-key-1234")

	vote := dataType.ByzantineMessage{
		NodeID:     "node-1",
		View:       0,
		Phase:      dataType.PhasePrepare,
		ProposalID: "8a6e0804-2bd0-4672-b79d-d97027f9071a",
		Result:     true,
		Timestamp:  time.Now().Unix(),
	}
	SignByzantineMessage(signer, &vote)
	if vote.Signature == "" {
		t.Fatal("SignByzantineMessage left signature empty")
	}
	if !VerifyByzantineMessage(signer, &vote) {
		t.Error("signed vote should verify")
	}

	t.Run("RejectEmptySignature", func(t *testing.T) {
		unsigned := vote
		unsigned.Signature = ""
		if VerifyByzantineMessage(signer, &unsigned) {
			t.Error("empty signature must not verify")
		}
	})

	t.Run("RejectReplayUnderOtherIdentity", func(t *testing.T) {
		stolen := vote
		stolen.NodeID = "node-2"
		if VerifyByzantineMessage(signer, &stolen) {
			t.Error("signature must be bound to the issuing node id")
		}
	})

	t.Run("RejectPhaseSwap", func(t *testing.T) {
		swapped := vote
		swapped.Phase = dataType.PhaseCommit
		if VerifyByzantineMessage(signer, &swapped) {
			t.Error("a prepare signature must not count as a commit signature")
		}
	})

	t.Run("RejectFlippedResult", func(t *testing.T) {
		flipped := vote
		flipped.Result = false
		if VerifyByzantineMessage(signer, &flipped) {
			t.Error("signature must cover the vote result")
		}
	})
}
