package constants

import "time"

const (
	IDLength = 20 // SHA-1
	IDBits   = IDLength * 8
	K        = 20
	Alpha    = 3 // Concurrency parameter

	// Salt is mixed into key-derived identities.
	Salt = "dfss-ulak-bibliotheca"

	DefaultRPCTimeout  = 30 * time.Second
	DefaultPingTimeout = 5 * time.Second

	// One envelope per datagram, no fragmentation.
	MaxDatagramSize = 64 * 1024
)
