package mesh

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

func TestInviteTrackerRejectsReplay(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir(), "127.0.0.1:18800")
	if err != nil {
		t.Fatal(err)
	}

	code, err := CreateInvite(id, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := DecodeInvite(code)
	if err != nil {
		t.Fatal(err)
	}

	tracker := NewInviteTracker()
	if err := tracker.Accept(payload); err != nil {
		t.Fatalf("expected first accept to succeed, got %v", err)
	}
	if err := tracker.Accept(payload); err != domain.ErrInviteReplayed {
		t.Fatalf("expected ErrInviteReplayed, got %v", err)
	}
}

func TestInviteExpiry(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir(), "127.0.0.1:18800")
	if err != nil {
		t.Fatal(err)
	}

	code, err := CreateInvite(id, -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := DecodeInvite(code)
	if err != nil {
		t.Fatal(err)
	}

	if err := NewInviteTracker().Accept(payload); err != domain.ErrInviteExpired {
		t.Fatalf("expected ErrInviteExpired, got %v", err)
	}
}

func TestDescriptorSignVerify(t *testing.T) {
	id, err := LoadOrCreate(t.TempDir(), "127.0.0.1:18800")
	if err != nil {
		t.Fatal(err)
	}

	desc, err := id.SignedDescriptor()
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyDescriptor(desc); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	desc.Endpoint = "tampered:9999"
	if err := VerifyDescriptor(desc); err != domain.ErrBadSignature {
		t.Fatalf("expected ErrBadSignature on tampered descriptor, got %v", err)
	}
}

func TestIdentityPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreate(dir, "127.0.0.1:18800")
	if err != nil {
		t.Fatal(err)
	}
	second, err := LoadOrCreate(dir, "127.0.0.1:18800")
	if err != nil {
		t.Fatal(err)
	}
	if first.InstanceID != second.InstanceID {
		t.Fatalf("expected stable instance id across reload, got %s vs %s", first.InstanceID, second.InstanceID)
	}
}

func TestRoomFanOutOnlyToConnected(t *testing.T) {
	rooms := NewRoomRegistry()
	room := rooms.Create("room-1", "ops")
	bothConnected := map[string]bool{"peer-a": true, "peer-b": true}
	if _, err := rooms.Join(room.ID, "peer-a", bothConnected); err != nil {
		t.Fatal(err)
	}
	if _, err := rooms.Join(room.ID, "peer-b", bothConnected); err != nil {
		t.Fatal(err)
	}

	// peer-b has since disconnected; it stays a member but no longer
	// receives fan-out until it reconnects.
	connected := map[string]bool{"peer-a": true}
	targets, err := rooms.Append(room.ID, domain.MeshMessage{Kind: domain.MsgChat, Text: "hi"}, connected)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0] != "peer-a" {
		t.Fatalf("expected fan-out only to connected peer-a, got %v", targets)
	}

	if _, err := rooms.Join(room.ID, "peer-c", map[string]bool{}); err != domain.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected joining without a live session, got %v", err)
	}
}

func TestPeerStoreStaleDetection(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenPeerStore(filepath.Join(dir, "peers.json"))
	if err != nil {
		t.Fatal(err)
	}

	desc := Descriptor{
		InstanceID: "abc123",
		Ed25519Pub: "aa",
		X25519Pub:  "bb",
		MLKEMPub:   "cc",
	}
	if _, err := store.Upsert(desc, domain.PeerDisconnected); err != nil {
		t.Fatal(err)
	}

	stale := store.Stale(0)
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale peer, got %d", len(stale))
	}

	if err := store.SetState("abc123", domain.PeerConnected); err != nil {
		t.Fatal(err)
	}
	if stale := store.Stale(0); len(stale) != 0 {
		t.Fatalf("expected connected peer to be excluded from stale, got %d", len(stale))
	}
}
