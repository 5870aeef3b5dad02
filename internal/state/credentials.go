package state

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// APICredentials are the L2 credentials the exchange derives for a signer.
type APICredentials struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

func (c APICredentials) Valid() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

func CredentialsKey(baseURL, address string, chainID int64) string {
	return "clob:creds:" + strings.ToLower(strings.TrimSpace(baseURL)) + ":" + strings.ToLower(address) + ":" + strconv.FormatInt(chainID, 10)
}

func LoadCredentials(ctx context.Context, store Store, key string) (APICredentials, bool, error) {
	if store == nil {
		return APICredentials{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return APICredentials{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return APICredentials{}, false, nil
	}
	var creds APICredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return APICredentials{}, false, err
	}
	if !creds.Valid() {
		return APICredentials{}, false, nil
	}
	return creds, true, nil
}

func SaveCredentials(ctx context.Context, store Store, key string, creds APICredentials) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload))
}
