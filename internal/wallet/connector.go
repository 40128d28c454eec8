package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vscan/internal/utils"
)

// 状态栏文字
const (
	msgUnavailable  = "No wallet provider detected"
	msgConnected    = "Wallet connected"
	msgDisconnected = "Wallet disconnected"
	msgRejected     = "Wallet connection rejected"
)

// State 钱包连接状态
type State struct {
	Available bool   `json:"available"`
	Connected bool   `json:"connected"`
	Account   string `json:"account,omitempty"`
	ChainID   string `json:"chain_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Listener 状态变化回调
type Listener func(State)

// Connector 钱包连接器, 与预览/分析流程相互独立
type Connector struct {
	mu       sync.Mutex
	provider Provider
	listener Listener
	state    State
	unsub    func()
}

// NewConnector 创建连接器, provider 为 nil 表示当前环境没有钱包
func NewConnector(provider Provider, listener Listener) *Connector {
	c := &Connector{
		provider: provider,
		listener: listener,
	}
	c.state = State{Available: provider != nil}
	if provider == nil {
		c.state.Message = msgUnavailable
	}
	return c
}

// State 当前状态
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect 由用户显式触发的连接请求
func (c *Connector) Connect(ctx context.Context) (State, error) {
	if c.provider == nil {
		// 没有钱包是正常状态, 不是错误
		return c.State(), nil
	}

	if st := c.State(); st.Connected {
		return st, nil
	}

	accounts, err := c.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = utils.ErrWalletRejected
	}
	if err != nil {
		st := c.update(func(s *State) {
			s.Connected = false
			s.Account = ""
			s.Message = msgRejected
		})
		if !errors.Is(err, utils.ErrWalletRejected) {
			err = fmt.Errorf("%w: %v", utils.ErrWalletRejected, err)
		}
		return st, err
	}

	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return c.State(), fmt.Errorf("failed to read chain id: %w", err)
	}

	c.mu.Lock()
	if c.unsub == nil {
		c.unsub = c.provider.Subscribe(c.handle)
	}
	c.mu.Unlock()

	return c.update(func(s *State) {
		s.Connected = true
		s.Account = accounts[0]
		s.ChainID = chainID
		s.Message = msgConnected
	}), nil
}

// Disconnect 断开连接并取消事件订阅
func (c *Connector) Disconnect() State {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	if c.provider == nil {
		return c.State()
	}
	return c.update(func(s *State) {
		s.Connected = false
		s.Account = ""
		s.ChainID = ""
		s.Message = msgDisconnected
	})
}

// handle 处理提供方推送的事件
func (c *Connector) handle(ev ProviderEvent) {
	switch ev.Type {
	case EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			c.Disconnect()
			return
		}
		c.update(func(s *State) {
			s.Connected = true
			s.Account = ev.Accounts[0]
			if ev.ChainID != "" {
				s.ChainID = ev.ChainID
			}
			s.Message = "Account changed"
		})
	case EventDisconnect:
		c.Disconnect()
	case EventConnect:
		c.update(func(s *State) {
			if ev.ChainID != "" {
				s.ChainID = ev.ChainID
			}
		})
	}
}

// update 修改状态后在锁外通知监听者
func (c *Connector) update(fn func(*State)) State {
	c.mu.Lock()
	fn(&c.state)
	st := c.state
	c.mu.Unlock()

	if c.listener != nil {
		c.listener(st)
	}
	return st
}
