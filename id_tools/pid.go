package id_tools

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"

	ecies "github.com/ecies/go/v2"

	"github.com/kutluhann/kademlia-dht/constants"
)

// PeerID is a 160-bit identifier in the XOR metric space.
type PeerID [constants.IDLength]byte

// ParsePeerID decodes a 40 character hex string.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	if len(raw) != constants.IDLength {
		return id, fmt.Errorf("invalid peer id length: got %d want %d", len(raw), constants.IDLength)
	}
	copy(id[:], raw)
	return id, nil
}

// Digest is the 160-bit digest used for every derived identifier.
func Digest(data []byte) PeerID {
	return PeerID(sha1.Sum(data))
}

// FromAddress derives the id of a node from its "ip:port" string.
func FromAddress(ip string, port int) PeerID {
	return Digest([]byte(net.JoinHostPort(ip, strconv.Itoa(port))))
}

// KeyID maps a store key onto the id space. A key that already is a
// 40 character hex digest is used as is.
func KeyID(key string) PeerID {
	if id, err := ParsePeerID(key); err == nil {
		return id
	}
	return Digest([]byte(key))
}

func RandomPeerID() PeerID {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}

// GenerateNewPID creates a fresh secp256k1 key pair and the id it owns.
func GenerateNewPID() (*ecies.PrivateKey, PeerID, error) {
	privateKey, err := ecies.GenerateKey()
	if err != nil {
		return nil, PeerID{}, fmt.Errorf("generating private key: %w", err)
	}
	return privateKey, GeneratePeerIDFromPublicKey(privateKey.PublicKey), nil
}

// LoadPrivateKey parses a hex encoded private key and derives its id.
func LoadPrivateKey(keyHex string) (*ecies.PrivateKey, PeerID, error) {
	privateKey, err := ecies.NewPrivateKeyFromHex(keyHex)
	if err != nil {
		return nil, PeerID{}, fmt.Errorf("parsing private key: %w", err)
	}
	return privateKey, GeneratePeerIDFromPublicKey(privateKey.PublicKey), nil
}

func GeneratePeerIDFromPublicKey(pubKey *ecies.PublicKey) PeerID {
	// append the compressed key with the system salt
	dataToHash := append(pubKey.Bytes(true), []byte(constants.Salt)...)
	return Digest(dataToHash)
}

// CheckPublicKeyMatchesPeerID reports whether pid was derived from pubKey.
func CheckPublicKeyMatchesPeerID(pubKey *ecies.PublicKey, pid PeerID) bool {
	return GeneratePeerIDFromPublicKey(pubKey) == pid
}
