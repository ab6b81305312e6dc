package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// sha256Hex returns the lowercase hex SHA-256 digest of body, used as the
// content-hash component of Tuya's request-signing string.
func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// stringToSign builds the canonical string Tuya's cloud signs requests
// against: METHOD\nContent-SHA256\nHeaders\nURL.
func stringToSign(method, urlPath string, body []byte, signHeaders string) string {
	return strings.Join([]string{
		method,
		sha256Hex(body),
		signHeaders,
		urlPath,
	}, "\n")
}

// sign computes the HMAC-SHA256 signature Tuya expects on every cloud
// request, keyed on the account secret. For token-less requests (the
// initial token fetch) accessToken is empty.
func sign(secret, clientID, accessToken, timestamp, nonce, strToSign string) string {
	payload := clientID + accessToken + timestamp + nonce + strToSign
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

func timestampMillis(t int64) string {
	return strconv.FormatInt(t, 10)
}
