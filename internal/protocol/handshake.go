package protocol

import (
	"fmt"
	"strings"
)

// Version is the relay protocol version. No message carries it; peers do
// not negotiate it.
const Version = 1

// ValidateRegisterRequest validates a relay registration request
func ValidateRegisterRequest(req *RegisterRequest) error {
	if req.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !strings.HasPrefix(req.Address, "taior://") {
		return fmt.Errorf("address must use the taior scheme")
	}
	if len(req.Address) != len("taior://")+64 {
		return fmt.Errorf("address has wrong length")
	}
	if req.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	return nil
}

// ValidateForwardRequest validates a forward request
func ValidateForwardRequest(req *ForwardRequest) error {
	if req.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if len(req.Packet) == 0 {
		return fmt.Errorf("packet is empty")
	}
	if len(req.Packet) > MaxFramePayload {
		return fmt.Errorf("packet exceeds frame limit")
	}
	return nil
}
