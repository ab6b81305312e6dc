package scanner

import (
	"crypto/aes"
	"encoding/json"
	"testing"
)

func encryptForTest(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(udpBroadcastKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), make([]byte, padLen)...)
	for i := range padded[len(plaintext):] {
		padded[len(plaintext)+i] = byte(padLen)
	}

	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return out
}

func TestDecryptBroadcastRoundTrip(t *testing.T) {
	payload := rawPacket{GwID: "abc123", IP: "192.168.1.50", Version: "3.3"}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ciphertext := encryptForTest(t, plaintext)

	decrypted, err := decryptBroadcast(ciphertext)
	if err != nil {
		t.Fatalf("decryptBroadcast: %v", err)
	}

	var got rawPacket
	if err := json.Unmarshal(decrypted, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.GwID != payload.GwID || got.IP != payload.IP {
		t.Errorf("got = %+v, want %+v", got, payload)
	}
}

func TestDecryptBroadcastRejectsUnalignedInput(t *testing.T) {
	if _, err := decryptBroadcast([]byte("not a block")); err == nil {
		t.Error("expected error for non-block-aligned ciphertext")
	}
}

func TestMacFromHexID(t *testing.T) {
	mac := macFromHexID("0123456789abcdef01234567")
	if mac != "" {
		t.Errorf("expected empty MAC for a 24-char id, got %q", mac)
	}

	id20 := "0123456789abcdef0123"
	mac = macFromHexID(id20)
	want := "89:ab:cd:ef:01:23"
	if mac != want {
		t.Errorf("mac = %q, want %q", mac, want)
	}
}
