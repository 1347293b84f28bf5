package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	_ Store       = (*Redis)(nil)
	_ Preferences = (*Redis)(nil)
	_ Watcher     = (*Redis)(nil)
)

const (
	eventSaved   = "saved"
	eventCleared = "cleared"
)

// Redis keeps the record under one key per namespace and announces every
// write on a pub/sub channel so other processes can follow.
type Redis struct {
	client          redis.UniversalClient
	namespace       string
	expireWithToken bool
	nowTime         func() time.Time
}

type RedisOption func(*Redis)

// WithAccessExpiry makes the record expire together with its access token.
// Watch then also reports expiry as a clear, which needs keyspace
// notifications enabled on the server (notify-keyspace-events Kx).
func WithAccessExpiry() RedisOption {
	return func(r *Redis) {
		r.expireWithToken = true
	}
}

func WithRedisNowTime(nowFunc func() time.Time) RedisOption {
	return func(r *Redis) {
		r.nowTime = nowFunc
	}
}

func NewRedis(client redis.UniversalClient, namespace string, opts ...RedisOption) *Redis {
	r := &Redis{client: client, namespace: namespace, nowTime: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) recordKey() string {
	return "learnbox:session:" + r.namespace
}

func (r *Redis) tenantKey() string {
	return "learnbox:selected-tenant:" + r.namespace
}

func (r *Redis) channel() string {
	return "learnbox:session-events:" + r.namespace
}

func (r *Redis) expiryPattern() string {
	return "__keyspace@*__:" + r.recordKey()
}

func (r *Redis) Save(ctx context.Context, rec Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if r.expireWithToken {
		if exp, ok := rec.Tokens.AccessExpiry(); ok {
			ttl = exp.Sub(r.nowTime())
			if ttl <= 0 {
				return fmt.Errorf("refusing to store an expired access token")
			}
		}
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(), data, ttl)
		pipe.Publish(ctx, r.channel(), eventSaved)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session in redis: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) (*Record, error) {
	data, err := r.client.Get(ctx, r.recordKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session from redis: %w", err)
	}
	return decode(data)
}

func (r *Redis) Clear(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey())
		pipe.Publish(ctx, r.channel(), eventCleared)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

func (r *Redis) SelectedTenant(ctx context.Context) (tenants.Selection, error) {
	raw, err := r.client.Get(ctx, r.tenantKey()).Result()
	if errors.Is(err, redis.Nil) {
		return tenants.SelectionNone, nil
	}
	if err != nil {
		return tenants.SelectionNone, fmt.Errorf("failed to read selected tenant: %w", err)
	}
	return tenants.Selection(raw).Normalize(), nil
}

func (r *Redis) SetSelectedTenant(ctx context.Context, sel tenants.Selection) error {
	if err := r.client.Set(ctx, r.tenantKey(), sel.String(), 0).Err(); err != nil {
		return fmt.Errorf("failed to store selected tenant: %w", err)
	}
	return nil
}

// Watch subscribes to the namespace's event channel and, with
// WithAccessExpiry, to expiry notifications for the record key.
func (r *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel(), err)
	}
	if r.expireWithToken {
		if err := sub.PSubscribe(ctx, r.expiryPattern()); err != nil {
			sub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", r.expiryPattern(), err)
		}
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", r.expiryPattern(), err)
		}
	}

	changes := make(chan Change, 1)
	go func() {
		defer close(changes)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				switch {
				case msg.Pattern != "":
					// Keyspace notification; the payload is the command.
					if msg.Payload != "expired" {
						continue
					}
					change.Cleared = true
				case msg.Payload == eventCleared:
					change.Cleared = true
				case msg.Payload == eventSaved:
				default:
					log.Debug().Str("payload", msg.Payload).Msg("ignoring unknown session event")
					continue
				}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return changes, nil
}
