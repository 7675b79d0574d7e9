package dht

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kutluhann/kademlia-dht/constants"
)

type MessageType string

const (
	PING       MessageType = "PING"
	REPLY      MessageType = "REPLY"
	STORE      MessageType = "STORE"
	FIND_NODE  MessageType = "FIND_NODE"
	FIND_VALUE MessageType = "FIND_VALUE"
)

// Message is the envelope carried by every datagram.
type Message struct {
	Type     MessageType     `json:"type"`
	RPCID    string          `json:"rpcId"`
	SenderID NodeID          `json:"nodeId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// StoreRequest carries the value as a plain JSON string.
type StoreRequest struct {
	Key   string `json:"key"`
	Block string `json:"block"`
}

// FindNodeRequest carries the lookup target. Peers that omit it are asking
// for nodes close to themselves.
type FindNodeRequest struct {
	Target *NodeID `json:"target,omitempty"`
}

type FindValueRequest struct {
	Key string `json:"key"`
}

// PingRequest has no payload.
type PingRequest struct{}

// Reply is an answer to one of our requests; Data is decoded once the
// correlator knows which request it answers.
type Reply struct {
	Data json.RawMessage
}

// FindNodeResponse is the payload of a FIND_NODE reply and of a FIND_VALUE
// reply that missed.
type FindNodeResponse struct {
	Contacts []Contact `json:"contacts"`
}

// FindValueResult is a decoded FIND_VALUE reply: either the value or the
// contacts closest to the key.
type FindValueResult struct {
	Found    bool
	Value    []byte
	Contacts []Contact
}

// Payload is the decoded body of an inbound message, one of PingRequest,
// StoreRequest, FindNodeRequest, FindValueRequest or Reply.
type Payload interface {
	messageType() MessageType
}

func (PingRequest) messageType() MessageType      { return PING }
func (StoreRequest) messageType() MessageType     { return STORE }
func (FindNodeRequest) messageType() MessageType  { return FIND_NODE }
func (FindValueRequest) messageType() MessageType { return FIND_VALUE }
func (Reply) messageType() MessageType            { return REPLY }

// EncodeMessage serializes an envelope. A nil payload leaves data absent.
func EncodeMessage(typ MessageType, rpcID string, sender NodeID, payload interface{}) ([]byte, error) {
	msg := Message{Type: typ, RPCID: rpcID, SenderID: sender}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		msg.Data = data
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", typ, err)
	}
	if len(b) > constants.MaxDatagramSize {
		return nil, fmt.Errorf("%s envelope is %d bytes, limit is %d", typ, len(b), constants.MaxDatagramSize)
	}
	return b, nil
}

// DecodeMessage parses a datagram into its envelope and typed payload.
func DecodeMessage(b []byte) (Message, Payload, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, nil, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if msg.RPCID == "" {
		return msg, nil, &ProtocolError{Reason: "missing rpcId"}
	}
	if msg.SenderID.IsZero() {
		return msg, nil, &ProtocolError{Reason: "missing nodeId"}
	}

	var payload Payload
	switch msg.Type {
	case PING:
		payload = PingRequest{}
	case REPLY:
		payload = Reply{Data: msg.Data}
	case STORE:
		var req StoreRequest
		if err := decodeData(msg, &req); err != nil {
			return msg, nil, err
		}
		if req.Key == "" {
			return msg, nil, &ProtocolError{Reason: "STORE without key"}
		}
		payload = req
	case FIND_NODE:
		var req FindNodeRequest
		if len(msg.Data) > 0 {
			if err := decodeData(msg, &req); err != nil {
				return msg, nil, err
			}
		}
		payload = req
	case FIND_VALUE:
		var req FindValueRequest
		if err := decodeData(msg, &req); err != nil {
			return msg, nil, err
		}
		if req.Key == "" {
			return msg, nil, &ProtocolError{Reason: "FIND_VALUE without key"}
		}
		payload = req
	default:
		return msg, nil, &ProtocolError{Reason: fmt.Sprintf("unrecognized type %q", msg.Type)}
	}
	return msg, payload, nil
}

func decodeData(msg Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return &ProtocolError{Reason: fmt.Sprintf("%s without data", msg.Type)}
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("malformed %s data", msg.Type), Err: err}
	}
	return nil
}

func decodeContacts(data json.RawMessage) ([]Contact, error) {
	var resp FindNodeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed contacts reply", Err: err}
	}
	return resp.Contacts, nil
}

// decodeFindValue tells a value (a JSON string) apart from a contact list
// (an object).
func decodeFindValue(data json.RawMessage) (FindValueResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return FindValueResult{}, &ProtocolError{Reason: "malformed value reply", Err: err}
		}
		return FindValueResult{Found: true, Value: []byte(value)}, nil
	}
	if len(trimmed) == 0 {
		return FindValueResult{}, nil
	}
	contacts, err := decodeContacts(trimmed)
	if err != nil {
		return FindValueResult{}, err
	}
	return FindValueResult{Contacts: contacts}, nil
}
