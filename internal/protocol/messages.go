// Package protocol defines the taior relay control messages and framing.
package protocol

import (
	"encoding/json"
	"time"
)

// Message types
const (
	// Control messages
	MsgTypeRegister   = "REGISTER"
	MsgTypeRegistered = "REGISTERED"
	MsgTypeForward    = "FORWARD"
	MsgTypeDeliver    = "DELIVER"
	MsgTypeClose      = "CLOSE"
	MsgTypeError      = "ERROR"
	MsgTypePing       = "PING"
	MsgTypePong       = "PONG"

	// Circuit setup messages (out-of-band key delivery)
	MsgTypeCircuitKeys = "CIRCUIT_KEYS"
	MsgTypeCircuitAck  = "CIRCUIT_ACK"
)

// Error codes
const (
	ErrorCodeUnknown        = "UNKNOWN_ERROR"
	ErrorCodeUnknownDest    = "UNKNOWN_DESTINATION"
	ErrorCodeAuthExpired    = "AUTH_EXPIRED"
	ErrorCodeRateLimited    = "RATE_LIMITED"
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeInvalidPacket  = "INVALID_PACKET"
	ErrorCodeMaxClients     = "MAX_CLIENTS_REACHED"
	ErrorCodeInternalError  = "INTERNAL_ERROR"
)

// Message is the base protocol message
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts"`
}

// NewMessage creates a new message with timestamp
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// RegisterRequest announces a client's taior address to the relay
type RegisterRequest struct {
	Address   string `json:"address"`
	AuthToken string `json:"auth_token"`
}

// RegisteredResponse confirms registration
type RegisteredResponse struct {
	Address   string `json:"address"`
	ExpiresAt int64  `json:"expires_at"`
}

// ForwardRequest asks the relay to pass an onion packet one hop on.
// Seq is the onion sequence number the layers were keyed with; it rides
// the control channel, never the packet envelope.
type ForwardRequest struct {
	Destination string `json:"destination"`
	CircuitID   string `json:"circuit_id,omitempty"`
	Seq         uint64 `json:"seq"`
	Packet      []byte `json:"packet"`
}

// DeliverNotification hands a packet to its final recipient
type DeliverNotification struct {
	Source string `json:"source,omitempty"`
	Seq    uint64 `json:"seq"`
	Packet []byte `json:"packet"`
}

// CircuitKeysRequest delivers a relay its per-circuit key material
type CircuitKeysRequest struct {
	CircuitID   string `json:"circuit_id"`
	SharedKey   []byte `json:"shared_key"`
	BaseNonce   []byte `json:"base_nonce"`
	Predecessor string `json:"predecessor,omitempty"`
	Successor   string `json:"successor,omitempty"`
}

// CircuitAckResponse confirms circuit key installation
type CircuitAckResponse struct {
	CircuitID string `json:"circuit_id"`
	Accepted  bool   `json:"accepted"`
}

// ErrorResponse is sent when an error occurs
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// CloseRequest is sent to close a connection
type CloseRequest struct {
	Reason string `json:"reason,omitempty"`
}
