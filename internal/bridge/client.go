// Package bridge реализует HTTP транспорт к мосту торгового терминала.
//
// Транспорт не хранит состояния: каждый вызов ограничен таймаутом и
// возвращает либо результат, либо *Error с классом ошибки.
package bridge

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accountsync/internal/models"
	"accountsync/pkg/ratelimit"
	"accountsync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseSize ограничивает размер ответа моста
const maxResponseSize = 4 << 20

// Transport - операции моста, используемые движком синхронизации
type Transport interface {
	Connect(ctx context.Context, creds models.Credentials) (*AccountInfo, error)
	AccountInfo(ctx context.Context) (*AccountInfo, error)
	Positions(ctx context.Context) ([]PositionInfo, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CloseOrder(ctx context.Context, ticket int64) (*CloseResult, error)
	Status(ctx context.Context) (*Status, error)
}

// Config - настройки клиента моста
type Config struct {
	BaseURL   string
	Timeout   time.Duration // таймаут каждого вызова (default: 10s)
	RateLimit float64       // запросов в секунду (0 = default limiter)
	RateBurst int
	HTTP      HTTPClientConfig
}

// Client - HTTP реализация Transport
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *ratelimit.RateLimiter
	tracer  trace.Tracer
	log     *utils.Logger
}

var _ Transport = (*Client)(nil)

// NewClient создаёт клиента моста
func NewClient(cfg Config, log *utils.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTP.TotalTimeout <= 0 {
		cfg.HTTP = DefaultHTTPClientConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    newHTTPClient(cfg.HTTP),
		limiter: ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		tracer:  otel.Tracer("accountsync/bridge"),
		log:     utils.OrGlobal(log).WithComponent("bridge"),
	}
}

// Close закрывает idle соединения
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// ============================================================
// Операции
// ============================================================

// Connect выполняет вход в терминал
func (c *Client) Connect(ctx context.Context, creds models.Credentials) (*AccountInfo, error) {
	var resp accountInfoResponse
	req := connectRequest{
		Server:        creds.Server,
		AccountNumber: creds.AccountNumber,
		Password:      creds.Password,
	}
	if err := c.call(ctx, opConnect, http.MethodPost, "/connect", req, &resp, true); err != nil {
		return nil, err
	}
	if resp.AccountInfo == nil {
		return nil, newError(KindMalformed, opConnect, "missing account_info", nil)
	}
	return resp.AccountInfo, nil
}

// AccountInfo получает денежные показатели счёта
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	var resp accountInfoResponse
	if err := c.call(ctx, opAccountInfo, http.MethodPost, "/account_info", nil, &resp, true); err != nil {
		return nil, err
	}
	if resp.AccountInfo == nil {
		return nil, newError(KindMalformed, opAccountInfo, "missing account_info", nil)
	}
	return resp.AccountInfo, nil
}

// Positions получает открытые позиции
func (c *Client) Positions(ctx context.Context) ([]PositionInfo, error) {
	var resp positionsResponse
	if err := c.call(ctx, opPositions, http.MethodPost, "/positions", nil, &resp, true); err != nil {
		return nil, err
	}
	if resp.Positions == nil {
		return []PositionInfo{}, nil
	}
	return resp.Positions, nil
}

// PlaceOrder отправляет ордер в терминал
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	var resp placeOrderResponse
	if err := c.call(ctx, opPlaceOrder, http.MethodPost, "/place_order", req, &resp, true); err != nil {
		return nil, err
	}
	if resp.TradeInfo == nil || resp.TradeInfo.Ticket == 0 {
		return nil, newError(KindMalformed, opPlaceOrder, "missing trade_info", nil)
	}
	return resp.TradeInfo, nil
}

// CloseOrder закрывает позицию по тикету
func (c *Client) CloseOrder(ctx context.Context, ticket int64) (*CloseResult, error) {
	var resp closeOrderResponse
	if err := c.call(ctx, opCloseOrder, http.MethodPost, "/close_order", closeOrderRequest{Ticket: ticket}, &resp, true); err != nil {
		return nil, err
	}
	if resp.ClosePrice == nil || resp.Profit == nil {
		return nil, newError(KindMalformed, opCloseOrder, "missing close_price or profit", nil)
	}
	return &CloseResult{ClosePrice: *resp.ClosePrice, Profit: *resp.Profit}, nil
}

// Status получает состояние моста (поле success не обязательно)
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp statusResponse
	if err := c.call(ctx, opStatus, http.MethodGet, "/status", nil, &resp, false); err != nil {
		return nil, err
	}
	status := resp.Status
	return &status, nil
}

// ============================================================
// HTTP
// ============================================================

type enveloped interface {
	env() *envelope
}

func (e *envelope) env() *envelope { return e }

// call выполняет запрос и разбирает ответ в out.
// requireSuccess: ответ без поля success считается некорректным.
func (c *Client) call(ctx context.Context, op, method, path string, body interface{}, out enveloped, requireSuccess bool) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "bridge."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bridge.op", op),
			attribute.String("http.method", method),
		),
	)
	start := time.Now()
	defer func() {
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		RequestDuration.WithLabelValues(op).Observe(elapsed)
		if err != nil {
			kind := string(KindOf(err))
			RequestErrors.WithLabelValues(op, kind).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			c.log.Debug("bridge call failed",
				utils.String("op", op),
				utils.Latency(elapsed),
				utils.Err(err),
			)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransport(op, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return newError(KindMalformed, op, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return newError(KindNetwork, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return classifyTransport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		be := classifyStatus(op, resp.StatusCode)
		// тело ошибки может содержать {"error": "..."}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			be.Message = env.Error
		}
		return be
	}

	if err := json.Unmarshal(data, out); err != nil {
		return newError(KindMalformed, op, "decode response", err)
	}

	env := out.env()
	switch {
	case env.Success == nil && requireSuccess:
		return newError(KindMalformed, op, "missing success field", nil)
	case env.Success != nil && !*env.Success:
		if env.Error == "" {
			return newError(KindMalformed, op, "success=false without error", nil)
		}
		return classifyMessage(op, env.Error)
	}

	return nil
}
