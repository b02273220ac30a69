package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 20)
	addr := NewAddress(CustodyPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(CustodyPrefix)+"1") {
		t.Fatalf("encoded address %q lacks prefix", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != CustodyPrefix {
		t.Fatalf("prefix = %q", decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("bytes = %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "not-bech32", "cst1qqqq"} {
		if _, err := DecodeAddress(bad); err == nil {
			t.Fatalf("decoded %q without error", bad)
		}
	}
}

func TestNewAddressRequires20Bytes(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("short address accepted")
		}
	}()
	NewAddress(CustodyPrefix, []byte{0x01})
}

func TestKeyDerivesStableAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if len(addr.Bytes()) != 20 {
		t.Fatalf("address length = %d", len(addr.Bytes()))
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().Address().String() != addr.String() {
		t.Fatal("restored key derives a different address")
	}
}
