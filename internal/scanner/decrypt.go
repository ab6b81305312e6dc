package scanner

import (
	"crypto/aes"
	"crypto/md5"
	"fmt"
)

// udpBroadcastKeySeed is the fixed string Tuya devices use to derive the
// AES key for their discovery-broadcast payloads; every gateway on the LAN
// encrypts with the same key regardless of its own local_key.
const udpBroadcastKeySeed = "yGAdlopoPVldABfn"

var udpBroadcastKey = deriveUDPKey()

func deriveUDPKey() []byte {
	sum := md5.Sum([]byte(udpBroadcastKeySeed))
	return sum[:]
}

// decryptBroadcast decrypts a Tuya UDP discovery packet (AES-128-ECB,
// PKCS#7 padded) using the well-known broadcast key.
func decryptBroadcast(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("scanner: broadcast payload not block-aligned (%d bytes)", len(ciphertext))
	}

	block, err := aes.NewCipher(udpBroadcastKey)
	if err != nil {
		return nil, fmt.Errorf("scanner: creating AES cipher: %w", err)
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}

	return unpad(out)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("scanner: empty decrypted payload")
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > len(data) || padLen > aes.BlockSize {
		// Some firmware revisions send unpadded JSON; fall back to the raw
		// bytes rather than reject the packet outright.
		return data, nil
	}
	return data[:len(data)-padLen], nil
}
