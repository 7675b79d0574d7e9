package id_tools

import (
	"bytes"
	"encoding/hex"
	"math/bits"

	"github.com/kutluhann/kademlia-dht/constants"
)

func (id PeerID) Xor(other PeerID) PeerID {
	var result PeerID
	for i := 0; i < len(id); i++ {
		result[i] = id[i] ^ other[i]
	}
	return result
}

// PrefixLen returns the number of leading bits id and other share.
func (id PeerID) PrefixLen(other PeerID) int {
	for i := 0; i < len(id); i++ {
		x := id[i] ^ other[i]

		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return len(id) * 8
}

// BucketIndex is floor(log2(id XOR other)) in [0, IDBits-1].
// Identical ids map to 0, the same index as a distance of exactly 1.
func (id PeerID) BucketIndex(other PeerID) int {
	prefix := id.PrefixLen(other)
	if prefix == constants.IDBits {
		return 0
	}
	return constants.IDBits - 1 - prefix
}

func (id PeerID) Less(other PeerID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// CompareDistance orders a and b by their XOR distance to target.
func CompareDistance(a, b, target PeerID) int {
	return bytes.Compare(a.Xor(target).Bytes(), b.Xor(target).Bytes())
}

func (id PeerID) Bytes() []byte {
	return id[:]
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is the first 8 hex characters, for log lines.
func (id PeerID) Short() string {
	return id.String()[:8]
}

func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
