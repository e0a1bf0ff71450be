package sim

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"bulletsim/internal/world"
)

// Wire protocol between the dispatcher and its workers. Every message is a
// self-contained frame: an 8-byte little-endian header followed by a
// gob-encoded body. Frames are immutable once encoded; both sides treat
// them as values, which is what keeps the worker pool free of shared state.
const (
	// Message types
	MsgTypeProcess  byte = 0x01 // Dispatcher → worker: simulate this bullet
	MsgTypeCancel   byte = 0x02 // Dispatcher → worker: drop this bullet
	MsgTypeDestruct byte = 0x03 // Dispatcher → worker: clear everything, go inert
	MsgTypeComplete byte = 0x04 // Worker → dispatcher: bullet reached a terminal state

	// ProtocolVersion for compatibility checking
	ProtocolVersion uint16 = 1

	// MaxMessageSize bounds a single frame body
	MaxMessageSize = 64 * 1024

	headerSize = 8 // 2 version + 1 type + 1 reserved + 4 length
)

// ProcessBulletMsg is the flat record handed to a worker on assignment.
type ProcessBulletMsg struct {
	ID          string
	Participant int64
	Damage      float64
	Range       float64
	Instant     bool
	Origin      world.Vec3
	Direction   world.Vec3
}

// CancelBulletMsg asks a worker to drop a bullet. No-op if unknown.
type CancelBulletMsg struct {
	ID string
}

// BulletCompleteMsg reports a terminal bullet back to the dispatcher.
type BulletCompleteMsg struct {
	ID     string
	Worker int // Reporting worker's pool index
}

// EncodeMessage frames a message: header + gob body. A nil payload encodes
// an empty body (used for Destruct).
func EncodeMessage(msgType byte, payload any) ([]byte, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := gob.NewEncoder(&body).Encode(payload); err != nil {
			return nil, fmt.Errorf("gob encode: %w", err)
		}
	}

	if body.Len() > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", body.Len(), MaxMessageSize)
	}

	frame := make([]byte, headerSize+body.Len())
	binary.LittleEndian.PutUint16(frame[0:2], ProtocolVersion)
	frame[2] = msgType
	// frame[3] reserved
	binary.LittleEndian.PutUint32(frame[4:8], uint32(body.Len()))
	copy(frame[headerSize:], body.Bytes())

	return frame, nil
}

// DecodeMessage splits a frame into its type and body after validating the
// header.
func DecodeMessage(frame []byte) (byte, []byte, error) {
	if len(frame) < headerSize {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}

	version := binary.LittleEndian.Uint16(frame[0:2])
	if version != ProtocolVersion {
		return 0, nil, fmt.Errorf("version mismatch: got %d, want %d", version, ProtocolVersion)
	}

	length := binary.LittleEndian.Uint32(frame[4:8])
	if length > MaxMessageSize {
		return 0, nil, fmt.Errorf("message too large: %d > %d", length, MaxMessageSize)
	}
	if int(length) != len(frame)-headerSize {
		return 0, nil, fmt.Errorf("length mismatch: header says %d, frame has %d", length, len(frame)-headerSize)
	}

	return frame[2], frame[headerSize:], nil
}

// DecodeProcessBullet decodes a ProcessBulletMsg body.
func DecodeProcessBullet(body []byte) (*ProcessBulletMsg, error) {
	var msg ProcessBulletMsg
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("gob decode process: %w", err)
	}
	return &msg, nil
}

// DecodeCancelBullet decodes a CancelBulletMsg body.
func DecodeCancelBullet(body []byte) (*CancelBulletMsg, error) {
	var msg CancelBulletMsg
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("gob decode cancel: %w", err)
	}
	return &msg, nil
}

// DecodeBulletComplete decodes a BulletCompleteMsg body.
func DecodeBulletComplete(body []byte) (*BulletCompleteMsg, error) {
	var msg BulletCompleteMsg
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("gob decode complete: %w", err)
	}
	return &msg, nil
}

// processMsgFromTicket builds the wire record for an assignment.
func processMsgFromTicket(t *BulletTicket) *ProcessBulletMsg {
	return &ProcessBulletMsg{
		ID:          t.ID,
		Participant: t.Spec.Participant,
		Damage:      t.Spec.Damage,
		Range:       t.Spec.Range,
		Instant:     t.Spec.Instant,
		Origin:      t.Spec.Origin,
		Direction:   t.Spec.Direction,
	}
}
