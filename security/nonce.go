package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNonceNotFound = errors.New("no pending auth message for wallet")

const (
	defaultNonceTTL = 5 * time.Minute
	authStatement   = "Sign in to the village world"
)

// NonceStore keeps one pending AuthMessage per wallet in redis. A message is consumed by the
// first verification attempt, successful or not.
type NonceStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

func NewNonceStore(client *redis.Client, namespace string, ttl time.Duration) *NonceStore {
	if namespace == "" {
		namespace = "hamlet"
	}
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	return &NonceStore{client: client, namespace: namespace, ttl: ttl, now: time.Now}
}

func (s *NonceStore) key(wallet string) string {
	return s.namespace + ":auth:nonce:" + NormalizeWallet(wallet)
}

// Issue creates a fresh message for wallet, replacing any pending one.
func (s *NonceStore) Issue(ctx context.Context, wallet string) (*AuthMessage, error) {
	wallet = NormalizeWallet(wallet)
	chain, err := WalletChain(wallet)
	if err != nil {
		return nil, err
	}
	msg := &AuthMessage{
		Wallet:   wallet,
		Chain:    chain,
		Message:  authStatement,
		Nonce:    uuid.NewString(),
		IssuedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.key(wallet), raw, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store nonce: %w", err)
	}
	return msg, nil
}

// Consume removes and returns the pending message for wallet.
func (s *NonceStore) Consume(ctx context.Context, wallet string) (*AuthMessage, error) {
	raw, err := s.client.GetDel(ctx, s.key(wallet)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNonceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load nonce: %w", err)
	}
	var msg AuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	return &msg, nil
}
