package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"poly-trade-bot/internal/state"
)

const (
	headerAddress    = "POLY_ADDRESS"
	headerSignature  = "POLY_SIGNATURE"
	headerTimestamp  = "POLY_TIMESTAMP"
	headerNonce      = "POLY_NONCE"
	headerAPIKey     = "POLY_API_KEY"
	headerPassphrase = "POLY_PASSPHRASE"
)

func l1Headers(signer *Signer, timestamp int64, nonce uint64) (http.Header, error) {
	sig, err := signer.SignClobAuth(timestamp, nonce)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(headerAddress, signer.Address().Hex())
	h.Set(headerSignature, sig)
	h.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	h.Set(headerNonce, strconv.FormatUint(nonce, 10))
	return h, nil
}

func l2Headers(address string, creds state.APICredentials, timestamp int64, method, path string, body []byte) (http.Header, error) {
	sig, err := hmacSignature(creds.Secret, timestamp, method, path, body)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(headerAddress, address)
	h.Set(headerSignature, sig)
	h.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	h.Set(headerAPIKey, creds.Key)
	h.Set(headerPassphrase, creds.Passphrase)
	return h, nil
}

// hmacSignature signs timestamp+method+path+body with the base64url secret
// and returns the base64url digest.
func hmacSignature(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + method + path))
	if len(body) > 0 {
		mac.Write(body)
	}
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSecret(secret string) ([]byte, error) {
	clean := strings.TrimSpace(secret)
	if key, err := base64.URLEncoding.DecodeString(clean); err == nil {
		return key, nil
	}
	if key, err := base64.RawURLEncoding.DecodeString(clean); err == nil {
		return key, nil
	}
	return base64.StdEncoding.DecodeString(clean)
}
