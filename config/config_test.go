package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	ecies "github.com/ecies/go/v2"

	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/id_tools"
)

func envMap(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestDefaults(t *testing.T) {
	c, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.K != 20 || c.Alpha != 3 || c.RPCTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestFromEnv(t *testing.T) {
	c, err := FromEnv(envMap(map[string]string{
		"DHT_PORT":         "9001",
		"DHT_K":            "8",
		"DHT_ALPHA":        "2",
		"DHT_PING_TIMEOUT": "250ms",
		"DHT_BOOTSTRAP":    "127.0.0.1:9000",
		"LOG_LEVEL":        "debug",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 9001 || c.K != 8 || c.Alpha != 2 || c.PingTimeout != 250*time.Millisecond {
		t.Fatalf("values not applied: %+v", c)
	}
	if c.Bootstrap != "127.0.0.1:9000" || c.LogLevel != "debug" {
		t.Fatalf("values not applied: %+v", c)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"DHT_PORT":        "eighty",
		"DHT_K":           "0",
		"DHT_ALPHA":       "-1",
		"DHT_RPC_TIMEOUT": "soon",
		"LOG_LEVEL":       "loud",
	}
	for name, value := range cases {
		if _, err := FromEnv(envMap(map[string]string{name: value})); err == nil {
			t.Fatalf("%s=%s should be rejected", name, value)
		}
	}
}

// TestLoadEnvFile reads settings from a .env file.
func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.env")
	if err := os.WriteFile(path, []byte("DHT_HTTP_PORT=8123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DHT_HTTP_PORT", "")
	os.Unsetenv("DHT_HTTP_PORT")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.HTTPPort != 8123 {
		t.Fatalf("http port %d, want 8123", c.HTTPPort)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("a missing env file should be ignored: %v", err)
	}
}

// TestOptionsPrivateKey fixes the node id to the configured key.
func TestOptionsPrivateKey(t *testing.T) {
	key, err := ecies.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c := Defaults()
	c.PrivateKey = key.Hex()
	c.StorageEncryptionKey = key.Hex()

	opts, err := c.Options(nil)
	if err != nil {
		t.Fatal(err)
	}
	node := dht.NewNode(dht.Contact{IP: "127.0.0.1", Port: 1}, nil, opts...)
	if want := id_tools.GeneratePeerIDFromPublicKey(key.PublicKey); node.Self.ID != want {
		t.Fatalf("node id %s, want %s", node.Self.ID, want)
	}

	c.PrivateKey = "not hex"
	if _, err := c.Options(nil); err == nil {
		t.Fatal("expected an error for a bad private key")
	}
}
