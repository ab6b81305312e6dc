package transport

import (
	"bytes"
	"testing"
)

const testLocalKey = "0123456789abcdef"

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	c, err := newCodec(testLocalKey, "3.3")
	if err != nil {
		t.Fatalf("newCodec: %v", err)
	}

	frame, err := c.encodeFrame(1, commandControl, map[string]any{"dps": map[string]any{"1": true}})
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	if !bytes.HasPrefix(frame, headerMagic) {
		t.Error("encoded frame missing header magic")
	}
	if !bytes.HasSuffix(frame, footerMagic) {
		t.Error("encoded frame missing footer magic")
	}

	command, dps, err := c.decodeFrame(frame)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if command != commandControl {
		t.Errorf("command = %x, want %x", command, commandControl)
	}
	if dps["1"] != true {
		t.Errorf("dps = %+v, want dp 1 = true", dps)
	}
}

func TestNewCodecRejectsShortKey(t *testing.T) {
	if _, err := newCodec("short", "3.3"); err == nil {
		t.Error("expected error for a local_key shorter than 16 bytes")
	}
}

func TestNewCodecRejectsUnsupportedVersion(t *testing.T) {
	if _, err := newCodec(testLocalKey, "2.0"); err == nil {
		t.Error("expected error for an unsupported protocol version")
	}
}

func TestCodecDecodeRejectsBadHeaderMagic(t *testing.T) {
	c, _ := newCodec(testLocalKey, "3.3")
	frame, _ := c.encodeFrame(1, commandControl, map[string]any{})
	frame[0] = 0xFF

	if _, _, err := c.decodeFrame(frame); err == nil {
		t.Error("expected error for corrupted header magic")
	}
}

func TestCodecDecodeWrongKeyYieldsKeyOrVersionError(t *testing.T) {
	sender, _ := newCodec(testLocalKey, "3.3")
	frame, err := sender.encodeFrame(1, commandControl, map[string]any{"dps": map[string]any{"1": true}})
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	receiver, _ := newCodec("fedcba9876543210", "3.3")
	if _, _, err := receiver.decodeFrame(frame); err == nil {
		t.Error("expected ErrKeyOrVersion when decoding with the wrong local key")
	}
}

func TestCodecDeriveSessionKeyIsDeterministic(t *testing.T) {
	c1, _ := newCodec(testLocalKey, "3.4")
	c2, _ := newCodec(testLocalKey, "3.4")

	localNonce := []byte("0123456789012345")
	remoteNonce := []byte("abcdefghijklmnop")

	if err := c1.deriveSessionKey(localNonce, remoteNonce); err != nil {
		t.Fatalf("deriveSessionKey: %v", err)
	}
	if err := c2.deriveSessionKey(localNonce, remoteNonce); err != nil {
		t.Fatalf("deriveSessionKey: %v", err)
	}

	if !bytes.Equal(c1.sessionKey, c2.sessionKey) {
		t.Error("expected identical nonces to derive identical session keys")
	}
	if bytes.Equal(c1.sessionKey, c1.localKey) {
		t.Error("session key should differ from the raw local key")
	}
}

func TestPKCS7PadUnpadRoundTrip(t *testing.T) {
	data := []byte("hello tuya")
	padded := pkcs7Pad(data, 16)
	if len(padded)%16 != 0 {
		t.Fatalf("padded length %d not block-aligned", len(padded))
	}

	unpadded, err := pkcs7Unpad(padded)
	if err != nil {
		t.Fatalf("pkcs7Unpad: %v", err)
	}
	if !bytes.Equal(unpadded, data) {
		t.Errorf("unpadded = %q, want %q", unpadded, data)
	}
}
