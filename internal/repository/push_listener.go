package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pusher принимает внешние уведомления (engine.Registry)
type Pusher interface {
	Push(ev models.PushEvent) error
}

// PushListener слушает Postgres NOTIFY и передаёт payload в движок.
//
// Формат: NOTIFY account_events, '{"account_id": "...", "timestamp": "...",
// "account": {...}, "positions": [...]}'
type PushListener struct {
	connStr string
	channel string
	pusher  Pusher
	log     *utils.Logger

	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
}

// NewPushListener создаёт слушателя канала channel
func NewPushListener(connStr, channel string, pusher Pusher, log *utils.Logger) *PushListener {
	return &PushListener{
		connStr:      connStr,
		channel:      channel,
		pusher:       pusher,
		log:          utils.OrGlobal(log).WithComponent("push_listener"),
		minReconnect: 5 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
	}
}

// Run слушает канал до отмены ctx
func (l *PushListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.connStr, l.minReconnect, l.maxReconnect, l.onEvent)
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("listening for push notifications", utils.String("channel", l.channel))

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil после переподключения: часть уведомлений могла потеряться,
			// следующий опрос догонит состояние
			if n == nil {
				l.log.Warn("push listener reconnected, notifications may have been missed")
				continue
			}
			if err := l.Handle(n.Extra); err != nil {
				l.log.Warn("push notification rejected", utils.Err(err))
			}
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Debug("push listener ping failed", utils.Err(err))
				}
			}()
		}
	}
}

// Handle разбирает payload уведомления и передаёт его в движок
func (l *PushListener) Handle(payload string) error {
	var ev models.PushEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("decode push payload: %w", err)
	}
	if ev.AccountID == "" {
		return errors.New("push payload without account_id")
	}
	if err := l.pusher.Push(ev); err != nil {
		return fmt.Errorf("push to account %s: %w", ev.AccountID, err)
	}
	return nil
}

func (l *PushListener) onEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.log.Debug("push listener connected")
	case pq.ListenerEventDisconnected:
		l.log.Warn("push listener disconnected", utils.Err(err))
	case pq.ListenerEventReconnected:
		l.log.Info("push listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Warn("push listener connection attempt failed", utils.Err(err))
	}
}
