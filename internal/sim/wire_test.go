package sim

import (
	"testing"

	"bulletsim/internal/world"
)

// TestProcessMessageRoundTrip verifies an assignment message decodes to
// exactly what was encoded
func TestProcessMessageRoundTrip(t *testing.T) {
	original := &ProcessBulletMsg{
		ID:          "bullet-123",
		Participant: 42,
		Damage:      25.5,
		Range:       300,
		Instant:     true,
		Origin:      world.Vec3{X: 1, Y: 2, Z: 3},
		Direction:   world.Vec3{X: 0, Y: 0, Z: 1},
	}

	frame, err := EncodeMessage(MsgTypeProcess, original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	msgType, body, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msgType != MsgTypeProcess {
		t.Errorf("Expected type %#x, got %#x", MsgTypeProcess, msgType)
	}

	decoded, err := DecodeProcessBullet(body)
	if err != nil {
		t.Fatalf("Body decode failed: %v", err)
	}
	if *decoded != *original {
		t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

// TestCancelMessageRoundTrip verifies cancel frames survive the wire
func TestCancelMessageRoundTrip(t *testing.T) {
	frame, err := EncodeMessage(MsgTypeCancel, &CancelBulletMsg{ID: "b-9"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	msgType, body, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msgType != MsgTypeCancel {
		t.Errorf("Expected type %#x, got %#x", MsgTypeCancel, msgType)
	}

	decoded, err := DecodeCancelBullet(body)
	if err != nil {
		t.Fatalf("Body decode failed: %v", err)
	}
	if decoded.ID != "b-9" {
		t.Errorf("Expected id b-9, got %s", decoded.ID)
	}
}

// TestCompleteMessageRoundTrip verifies completion frames survive the wire
func TestCompleteMessageRoundTrip(t *testing.T) {
	frame, err := EncodeMessage(MsgTypeComplete, &BulletCompleteMsg{ID: "b-1", Worker: 7})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	msgType, body, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msgType != MsgTypeComplete {
		t.Errorf("Expected type %#x, got %#x", MsgTypeComplete, msgType)
	}

	decoded, err := DecodeBulletComplete(body)
	if err != nil {
		t.Fatalf("Body decode failed: %v", err)
	}
	if decoded.ID != "b-1" || decoded.Worker != 7 {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
}

// TestDestructMessage verifies the nil-payload frame decodes to an empty body
func TestDestructMessage(t *testing.T) {
	frame, err := EncodeMessage(MsgTypeDestruct, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	msgType, body, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msgType != MsgTypeDestruct {
		t.Errorf("Expected type %#x, got %#x", MsgTypeDestruct, msgType)
	}
	if len(body) != 0 {
		t.Errorf("Expected empty body, got %d bytes", len(body))
	}
}

// TestDecodeRejectsMalformedFrames covers the header validation paths
func TestDecodeRejectsMalformedFrames(t *testing.T) {
	good, err := EncodeMessage(MsgTypeCancel, &CancelBulletMsg{ID: "x"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name  string
		frame []byte
	}{
		{"too short", good[:4]},
		{"bad version", mutate(good, 0, 0xFF)},
		{"length mismatch", good[:len(good)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeMessage(tt.frame); err == nil {
				t.Error("Expected a decode error")
			}
		})
	}
}

func mutate(frame []byte, idx int, b byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	out[idx] = b
	return out
}
