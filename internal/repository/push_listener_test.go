package repository

import (
	"errors"
	"testing"

	"accountsync/internal/models"
)

type recordingPusher struct {
	events []models.PushEvent
	err    error
}

func (p *recordingPusher) Push(ev models.PushEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func TestPushListenerHandle(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		pushErr    error
		wantErr    bool
		wantPushes int
	}{
		{
			name:       "account and positions",
			payload:    `{"account_id":"acc-1","timestamp":"2024-05-01T10:00:00Z","account":{"equity":10100},"positions":[{"ticket":123,"symbol":"EURUSD","side":"long","volume":0.1,"open_price":1.1,"current_price":1.101,"profit":10,"open_time":"2024-05-01T09:00:00Z"}]}`,
			wantPushes: 1,
		},
		{
			name:    "invalid json",
			payload: `{"account_id":`,
			wantErr: true,
		},
		{
			name:    "missing account id",
			payload: `{"timestamp":"2024-05-01T10:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "unknown account",
			payload: `{"account_id":"ghost"}`,
			pushErr: errors.New("account not found"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pusher := &recordingPusher{err: tt.pushErr}
			l := NewPushListener("", "account_events", pusher, nil)

			err := l.Handle(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(pusher.events) != tt.wantPushes {
				t.Fatalf("expected %d pushes, got %d", tt.wantPushes, len(pusher.events))
			}
			if tt.wantPushes > 0 {
				ev := pusher.events[0]
				if ev.Account == nil || ev.Account.Equity == nil || *ev.Account.Equity != 10100 {
					t.Errorf("unexpected account payload: %+v", ev.Account)
				}
				if len(ev.Positions) != 1 || ev.Positions[0].Ticket != 123 {
					t.Errorf("unexpected positions: %+v", ev.Positions)
				}
			}
		})
	}
}
