package account

import (
	"sort"
	"strings"
	"sync"
	"time"

	"poly-trade-bot/internal/clob/exchange"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Registry struct {
	newClient ClientFactory
	log       *zap.Logger
	now       func() time.Time
	chainID   int64

	mu       sync.RWMutex
	accounts map[string]Account
	clients  map[string]Client
	onDelete []func(id string)
}

func NewRegistry(factory ClientFactory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		newClient: factory,
		log:       log,
		now:       time.Now,
		chainID:   DefaultChainID,
		accounts:  make(map[string]Account),
		clients:   make(map[string]Client),
	}
}

// ExchangeFactory builds signing clients against the CLOB at baseURL,
// sharing store for derived API credentials.
func ExchangeFactory(baseURL string, timeout time.Duration, store state.Store, log *zap.Logger) ClientFactory {
	return func(a Account) Client {
		return exchange.New(exchange.Config{
			BaseURL:       baseURL,
			Timeout:       timeout,
			ChainID:       a.ChainID,
			PrivateKey:    a.PrivateKey,
			Funder:        a.Funder,
			SignatureType: exchange.SignatureType(a.SignatureType),
		}, store, log.With(zap.String("account_id", a.ID)))
	}
}

// SetDefaultChainID sets the chain used when a spec or patch leaves it zero.
// Call it before the registry is shared.
func (r *Registry) SetDefaultChainID(id int64) {
	if id > 0 {
		r.chainID = id
	}
}

// OnDelete registers fn to run after an account is removed.
func (r *Registry) OnDelete(fn func(id string)) {
	r.mu.Lock()
	r.onDelete = append(r.onDelete, fn)
	r.mu.Unlock()
}

func (r *Registry) Create(spec Spec) (Account, error) {
	if strings.TrimSpace(spec.PrivateKey) == "" {
		return Account{}, errs.Validation("private key is required")
	}
	if spec.SignatureType < 0 || spec.SignatureType > 2 {
		return Account{}, errs.Validation("signature type must be 0, 1 or 2")
	}
	now := r.now().UTC()
	acc := Account{
		ID:            "acc_" + uuid.NewString(),
		Name:          strings.TrimSpace(spec.Name),
		PrivateKey:    strings.TrimSpace(spec.PrivateKey),
		SignatureType: spec.SignatureType,
		Funder:        strings.TrimSpace(spec.Funder),
		ChainID:       spec.ChainID,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if acc.ChainID == 0 {
		acc.ChainID = r.chainID
	}
	if spec.Enabled != nil {
		acc.Enabled = *spec.Enabled
	}
	client := r.buildClient(&acc)

	r.mu.Lock()
	r.accounts[acc.ID] = acc
	r.clients[acc.ID] = client
	r.mu.Unlock()
	r.log.Info("account created", zap.String("account_id", acc.ID), zap.String("address", acc.Address), zap.Int64("chain_id", acc.ChainID))
	return acc, nil
}

// Update merges patch into the account. A change to any credential field or
// the chain id replaces the client; calls already running on the old client
// finish against it.
func (r *Registry) Update(id string, patch Patch) (Account, bool, error) {
	if patch.SignatureType != nil && (*patch.SignatureType < 0 || *patch.SignatureType > 2) {
		return Account{}, false, errs.Validation("signature type must be 0, 1 or 2")
	}
	if patch.PrivateKey != nil && strings.TrimSpace(*patch.PrivateKey) == "" {
		return Account{}, false, errs.Validation("private key cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return Account{}, false, nil
	}
	rebuild := false
	if patch.Name != nil {
		acc.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Enabled != nil {
		acc.Enabled = *patch.Enabled
	}
	if patch.PrivateKey != nil {
		if key := strings.TrimSpace(*patch.PrivateKey); key != acc.PrivateKey {
			acc.PrivateKey = key
			rebuild = true
		}
	}
	if patch.SignatureType != nil && *patch.SignatureType != acc.SignatureType {
		acc.SignatureType = *patch.SignatureType
		rebuild = true
	}
	if patch.Funder != nil {
		if funder := strings.TrimSpace(*patch.Funder); funder != acc.Funder {
			acc.Funder = funder
			rebuild = true
		}
	}
	if patch.ChainID != nil && *patch.ChainID != acc.ChainID {
		acc.ChainID = *patch.ChainID
		if acc.ChainID == 0 {
			acc.ChainID = r.chainID
		}
		rebuild = true
	}
	if rebuild {
		r.clients[id] = r.buildClient(&acc)
		r.log.Info("account client rebuilt", zap.String("account_id", id))
	}
	acc.UpdatedAt = r.now().UTC()
	r.accounts[id] = acc
	return acc, true, nil
}

// Delete removes the account and its client and runs delete hooks. It
// reports whether the account existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.accounts[id]
	delete(r.accounts, id)
	delete(r.clients, id)
	hooks := append([]func(string){}, r.onDelete...)
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, fn := range hooks {
		fn(id)
	}
	r.log.Info("account deleted", zap.String("account_id", id))
	return true
}

func (r *Registry) Get(id string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	return acc, ok
}

// List returns accounts ordered by creation time.
func (r *Registry) List() []Account {
	r.mu.RLock()
	out := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Client returns the live client for id. Callers look it up per use rather
// than holding on to it, so credential changes take effect.
func (r *Registry) Client(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok && c != nil
}

// buildClient never fails: a client that could not be set up reports its
// error from every call.
func (r *Registry) buildClient(acc *Account) Client {
	if r.newClient == nil {
		return nil
	}
	c := r.newClient(*acc)
	if c == nil {
		return nil
	}
	acc.Address = c.Address()
	if err := c.Err(); err != nil {
		r.log.Warn("account client unusable", zap.String("account_id", acc.ID), zap.Error(err))
	}
	return c
}
