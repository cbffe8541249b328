package config

import (
	"os"
	"testing"

	"github.com/kutluhann/kademlia-dht/id_tools"
)

func TestGetenvFallsBackWhenUnset(t *testing.T) {
	const key = "DHT_TEST_GETENV_UNSET"
	os.Unsetenv(key)
	if got := getenv(key, "fallback"); got != "fallback" {
		t.Fatalf("getenv = %q, want %q", got, "fallback")
	}
}

func TestGetenvReturnsSetValue(t *testing.T) {
	const key = "DHT_TEST_GETENV_SET"
	t.Setenv(key, "override")
	if got := getenv(key, "fallback"); got != "override" {
		t.Fatalf("getenv = %q, want %q", got, "override")
	}
}

func TestGetenvInt64ParsesValidValue(t *testing.T) {
	const key = "DHT_TEST_GETENV_INT"
	t.Setenv(key, "1234")
	if got := getenvInt64(key, 0); got != 1234 {
		t.Fatalf("getenvInt64 = %d, want 1234", got)
	}
}

func TestGetenvInt64FallsBackOnGarbage(t *testing.T) {
	const key = "DHT_TEST_GETENV_INT_BAD"
	t.Setenv(key, "not-a-number")
	if got := getenvInt64(key, 42); got != 42 {
		t.Fatalf("getenvInt64 = %d, want fallback 42", got)
	}
}

func TestGetenvBoolParsesValidValue(t *testing.T) {
	const key = "DHT_TEST_GETENV_BOOL"
	t.Setenv(key, "true")
	if got := getenvBool(key, false); !got {
		t.Fatalf("getenvBool = %v, want true", got)
	}
}

func TestGetenvBoolFallsBackOnGarbage(t *testing.T) {
	const key = "DHT_TEST_GETENV_BOOL_BAD"
	t.Setenv(key, "maybe")
	if got := getenvBool(key, true); !got {
		t.Fatalf("getenvBool = %v, want fallback true", got)
	}
}

func TestConfigPrivateKeyAccessors(t *testing.T) {
	c := &Config{}
	if c.HasPrivateKey() {
		t.Fatalf("expected a fresh Config to have no private key")
	}

	key, _ := id_tools.GenerateNewPID()
	c.SetPrivateKey(key)
	if !c.HasPrivateKey() {
		t.Fatalf("expected HasPrivateKey to be true after SetPrivateKey")
	}
	if c.GetPrivateKey() != key {
		t.Fatalf("GetPrivateKey returned a different key than was set")
	}
}

func TestConfigPeerIDAccessors(t *testing.T) {
	c := &Config{}
	_, peerID := id_tools.GenerateNewPID()
	c.SetPeerID(peerID)
	if c.GetPeerID() != peerID {
		t.Fatalf("GetPeerID returned a different value than was set")
	}
}
