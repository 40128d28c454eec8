package wallet

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"vscan/internal/utils"
)

// EventType 钱包提供方事件类型
type EventType string

const (
	EventConnect         EventType = "connect"
	EventDisconnect      EventType = "disconnect"
	EventAccountsChanged EventType = "accountsChanged"
)

// ProviderEvent 钱包提供方推送的事件
type ProviderEvent struct {
	Type     EventType
	Accounts []string
	ChainID  string
}

// Provider 外部注入的账户提供能力, 可以为 nil
type Provider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (string, error)
	Subscribe(fn func(ProviderEvent)) (cancel func())
}

var accountPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAccount 校验账户地址格式
func ValidAccount(account string) bool {
	return accountPattern.MatchString(account)
}

// StaticProvider 基于配置的固定账户提供方
type StaticProvider struct {
	mu       sync.Mutex
	accounts []string
	chainID  string
	subs     map[int]func(ProviderEvent)
	nextID   int
}

// NewStaticProvider 创建固定账户提供方
func NewStaticProvider(accounts []string, chainID string) (*StaticProvider, error) {
	for _, a := range accounts {
		if !ValidAccount(a) {
			return nil, fmt.Errorf("%w: %q", utils.ErrInvalidAccount, a)
		}
	}
	return &StaticProvider{
		accounts: append([]string(nil), accounts...),
		chainID:  chainID,
		subs:     make(map[int]func(ProviderEvent)),
	}, nil
}

// RequestAccounts 返回当前账户列表
func (p *StaticProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.accounts) == 0 {
		return nil, utils.ErrWalletRejected
	}
	return append([]string(nil), p.accounts...), nil
}

// ChainID 返回链ID
func (p *StaticProvider) ChainID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.chainID, nil
}

// Subscribe 订阅事件
func (p *StaticProvider) Subscribe(fn func(ProviderEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// SetAccounts 替换账户列表并推送 accountsChanged
func (p *StaticProvider) SetAccounts(accounts []string) error {
	for _, a := range accounts {
		if !ValidAccount(a) {
			return fmt.Errorf("%w: %q", utils.ErrInvalidAccount, a)
		}
	}

	p.mu.Lock()
	p.accounts = append([]string(nil), accounts...)
	ev := ProviderEvent{Type: EventAccountsChanged, Accounts: append([]string(nil), accounts...), ChainID: p.chainID}
	subs := p.snapshot()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// Disconnect 模拟提供方断开
func (p *StaticProvider) Disconnect() {
	p.mu.Lock()
	subs := p.snapshot()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(ProviderEvent{Type: EventDisconnect})
	}
}

func (p *StaticProvider) snapshot() []func(ProviderEvent) {
	subs := make([]func(ProviderEvent), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	return subs
}
