package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vscan/internal/events"
	"vscan/internal/wallet"
)

// walletListener 将钱包状态变化转发为事件
func (s *SessionService) walletListener(sessionID string) wallet.Listener {
	return func(st wallet.State) {
		s.publish(events.StatusEvent{
			Type:      events.TypeWallet,
			SessionID: sessionID,
			Message:   st.Message,
			Wallet:    &st,
			Time:      time.Now(),
		})
	}
}

// WalletState 获取会话的钱包状态
func (s *SessionService) WalletState(id string) (wallet.State, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return wallet.State{}, err
	}
	return sess.wallet.State(), nil
}

// ConnectWallet 用户显式请求连接钱包
func (s *SessionService) ConnectWallet(ctx context.Context, id string) (wallet.State, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return wallet.State{}, err
	}

	st, err := sess.wallet.Connect(ctx)
	if err != nil {
		s.logger.Warn("wallet connect failed", zap.String("session_id", id), zap.Error(err))
		return st, err
	}
	s.logger.Info("wallet state",
		zap.String("session_id", id),
		zap.Bool("available", st.Available),
		zap.Bool("connected", st.Connected))
	return st, nil
}

// DisconnectWallet 断开钱包
func (s *SessionService) DisconnectWallet(id string) (wallet.State, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return wallet.State{}, err
	}
	return sess.wallet.Disconnect(), nil
}
