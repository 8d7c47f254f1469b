// Package session 网页登录会话状态及其存储
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State 只能是 Anonymous、Pending 或 Authenticated 之一
type State interface {
	isState()
}

// Anonymous 未知或已过期的会话
type Anonymous struct{}

// Pending 密码已通过，等待验证码
type Pending struct {
	UserID uint
}

// Authenticated 已登录
type Authenticated struct {
	UserID uint
}

func (Anonymous) isState()     {}
func (Pending) isState()       {}
func (Authenticated) isState() {}

// Store 会话存储，未知或过期的 ID 返回 Anonymous
type Store interface {
	Get(ctx context.Context, id string) (State, error)
	Put(ctx context.Context, id string, state State, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// NewID 生成随机会话ID
func NewID() string {
	return uuid.NewString()
}

const (
	kindPending       = "pending"
	kindAuthenticated = "authenticated"
)

// envelope 非匿名状态的序列化格式
type envelope struct {
	Kind   string `json:"kind"`
	UserID uint   `json:"user_id"`
}

func encode(state State) ([]byte, error) {
	switch s := state.(type) {
	case Pending:
		return json.Marshal(envelope{Kind: kindPending, UserID: s.UserID})
	case Authenticated:
		return json.Marshal(envelope{Kind: kindAuthenticated, UserID: s.UserID})
	default:
		return nil, fmt.Errorf("session: cannot store state %T", state)
	}
}

func decode(raw []byte) (State, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	switch env.Kind {
	case kindPending:
		return Pending{UserID: env.UserID}, nil
	case kindAuthenticated:
		return Authenticated{UserID: env.UserID}, nil
	default:
		return nil, fmt.Errorf("session: unknown kind %q", env.Kind)
	}
}
