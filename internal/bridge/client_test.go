package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"accountsync/internal/models"
)

// newTestServer поднимает мост с одним обработчиком на все пути
func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:   srv.URL,
		Timeout:   time.Second,
		RateLimit: 1000,
		RateBurst: 1000,
	}, nil)
	t.Cleanup(client.Close)
	return client, srv
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func TestClient_Connect(t *testing.T) {
	var gotPath, gotBody string
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `{"success":true,"account_info":{"name":"Demo","company":"MetaQuotes","currency":"USD",
			"balance":10000,"equity":10050,"margin":100,"free_margin":9950,"margin_level":10050,"leverage":100}}`)
	})

	info, err := client.Connect(context.Background(), models.Credentials{
		Server: "MetaQuotes-Demo", AccountNumber: 12345678, Password: "secret",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if gotPath != "/connect" {
		t.Errorf("expected /connect, got %s", gotPath)
	}
	if !strings.Contains(gotBody, `"account_number":12345678`) || !strings.Contains(gotBody, `"server":"MetaQuotes-Demo"`) {
		t.Errorf("unexpected request body: %s", gotBody)
	}
	if info.Balance == nil || *info.Balance != 10000 {
		t.Errorf("expected balance 10000, got %v", info.Balance)
	}
	if info.Leverage == nil || *info.Leverage != 100 {
		t.Errorf("expected leverage 100, got %v", info.Leverage)
	}
	if info.Currency != "USD" {
		t.Errorf("expected USD, got %s", info.Currency)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		call    func(c *Client) error
		wantErr error
	}{
		{
			name: "login failed",
			body: `{"success":false,"error":"Login failed: (-6, 'Terminal: Authorization failed')"}`,
			call: func(c *Client) error {
				_, err := c.Connect(context.Background(), models.Credentials{Server: "s", AccountNumber: 1, Password: "p"})
				return err
			},
			wantErr: ErrAuthRejected,
		},
		{
			name: "terminal not connected",
			body: `{"success":false,"error":"MT5 not connected"}`,
			call: func(c *Client) error {
				_, err := c.AccountInfo(context.Background())
				return err
			},
			wantErr: ErrNetworkUnavailable,
		},
		{
			name: "initialize failed on connect",
			body: `{"success":false,"error":"Failed to initialize MT5"}`,
			call: func(c *Client) error {
				_, err := c.Connect(context.Background(), models.Credentials{Server: "s", AccountNumber: 1, Password: "p"})
				return err
			},
			wantErr: ErrNetworkUnavailable,
		},
		{
			name: "success false without error",
			body: `{"success":false}`,
			call: func(c *Client) error {
				_, err := c.Positions(context.Background())
				return err
			},
			wantErr: ErrMalformedResponse,
		},
		{
			name: "invalid json",
			body: `{"success":tru`,
			call: func(c *Client) error {
				_, err := c.AccountInfo(context.Background())
				return err
			},
			wantErr: ErrMalformedResponse,
		},
		{
			name: "missing success field",
			body: `{"account_info":{"balance":1}}`,
			call: func(c *Client) error {
				_, err := c.AccountInfo(context.Background())
				return err
			},
			wantErr: ErrMalformedResponse,
		},
		{
			name: "position not found",
			body: `{"success":false,"error":"Position not found"}`,
			call: func(c *Client) error {
				_, err := c.CloseOrder(context.Background(), 999)
				return err
			},
			wantErr: ErrRejected,
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `bad gateway`,
			call: func(c *Client) error {
				_, err := c.Status(context.Background())
				return err
			},
			wantErr: ErrNetworkUnavailable,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":"invalid token"}`,
			call: func(c *Client) error {
				_, err := c.AccountInfo(context.Background())
				return err
			},
			wantErr: ErrAuthRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				io.WriteString(w, tt.body)
			})

			err := tt.call(client)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			var be *Error
			if !errors.As(err, &be) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if be.Op == "" {
				t.Error("Op must be set")
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, err := client.AccountInfo(context.Background())
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("call was not bounded by timeout: %v", time.Since(start))
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second}, nil)
	if _, err := client.Status(context.Background()); !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
}

func TestClient_StatusWithoutSuccess(t *testing.T) {
	client, _ := newTestServer(t, respond(`{"mt5_connected":true,"auto_trading_active":false,"auto_trading_settings":{}}`))

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.MT5Connected || status.AutoTradingActive {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestClient_Positions(t *testing.T) {
	client, _ := newTestServer(t, respond(`{"success":true,"positions":[
		{"ticket":123,"symbol":"EURUSD","type":"BUY","volume":0.1,"price_open":1.1,"profit":5,"swap":0,"comment":""},
		{"ticket":124,"symbol":"USDJPY","type":"SELL","volume":0.2,"price_open":150.1,"price_current":150.0,"profit":-2,"swap":-0.1,"comment":"x","time":1700000000}
	]}`))

	positions, err := client.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}

	upd := ToUpdate(nil, positions, time.Now(), models.SyncSourcePoll)
	if upd.Positions[0].Side != models.SideLong || upd.Positions[1].Side != models.SideShort {
		t.Errorf("unexpected sides: %s, %s", upd.Positions[0].Side, upd.Positions[1].Side)
	}
	if upd.Positions[1].CurrentPrice != 150.0 {
		t.Errorf("expected current price 150.0, got %v", upd.Positions[1].CurrentPrice)
	}
	if upd.Positions[1].OpenTime.Unix() != 1700000000 {
		t.Errorf("unexpected open time: %v", upd.Positions[1].OpenTime)
	}
	if upd.Balance != nil {
		t.Error("positions-only update must not carry balance")
	}
}

func TestClient_EmptyPositions(t *testing.T) {
	client, _ := newTestServer(t, respond(`{"success":true,"positions":null}`))

	positions, err := client.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if positions == nil || len(positions) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", positions)
	}
}

func TestClient_PlaceAndCloseOrder(t *testing.T) {
	var placeBody string
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/place_order":
			b, _ := io.ReadAll(r.Body)
			placeBody = string(b)
			io.WriteString(w, `{"success":true,"trade_info":{"ticket":555,"open_price":1.1012}}`)
		case "/close_order":
			io.WriteString(w, `{"success":true,"close_price":1.1030,"profit":18}`)
		default:
			http.NotFound(w, r)
		}
	})

	res, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "EURUSD", TradeType: TradeTypeBuy, Volume: 0.1, Comment: "test", MagicNumber: 12345,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Ticket != 555 || res.OpenPrice != 1.1012 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.Contains(placeBody, `"magic_number":12345`) || strings.Contains(placeBody, "stop_loss") {
		t.Errorf("unexpected place body: %s", placeBody)
	}

	closed, err := client.CloseOrder(context.Background(), 555)
	if err != nil {
		t.Fatalf("CloseOrder: %v", err)
	}
	if closed.ClosePrice != 1.1030 || closed.Profit != 18 {
		t.Errorf("unexpected close result: %+v", closed)
	}
}

func TestIsUnavailable(t *testing.T) {
	if !IsUnavailable(newError(KindNetwork, opStatus, "x", nil)) {
		t.Error("network must be unavailable")
	}
	if !IsUnavailable(newError(KindMalformed, opStatus, "x", nil)) {
		t.Error("malformed must be unavailable")
	}
	if IsUnavailable(newError(KindAuth, opConnect, "x", nil)) {
		t.Error("auth is not unavailability")
	}
	if IsUnavailable(errors.New("plain")) {
		t.Error("plain error is not a bridge error")
	}
}
