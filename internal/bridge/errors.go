package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind - класс ошибки транспорта
type Kind string

const (
	KindNetwork   Kind = "network_unavailable" // мост недоступен или терминал не подключён
	KindAuth      Kind = "auth_rejected"       // неверные учётные данные
	KindMalformed Kind = "malformed_response"  // ответ не разобран или нарушает контракт
	KindRejected  Kind = "rejected"            // мост выполнил вызов, но отказал
)

// Sentinel ошибки для errors.Is
var (
	ErrNetworkUnavailable = errors.New("bridge network unavailable")
	ErrAuthRejected       = errors.New("bridge auth rejected")
	ErrMalformedResponse  = errors.New("bridge malformed response")
	ErrRejected           = errors.New("bridge rejected request")
)

// Error - типизированная ошибка транспорта.
// Транспорт возвращает только её, исключения наружу не уходят.
type Error struct {
	Kind    Kind
	Op      string // connect, account_info, positions, place_order, close_order, status
	Message string // текст из поля error или описание
	Err     error  // исходная ошибка (может быть nil)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge %s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет Kind с sentinel ошибками
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnavailable:
		return e.Kind == KindNetwork
	case ErrAuthRejected:
		return e.Kind == KindAuth
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	case ErrRejected:
		return e.Kind == KindRejected
	}
	return false
}

// KindOf возвращает класс ошибки ("" если это не ошибка моста)
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsUnavailable - ошибка означает, что мост недоступен и нужен переход в SIMULATED.
// Некорректный ответ тоже считается недоступностью: данным моста верить нельзя.
func IsUnavailable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindMalformed:
		return true
	}
	return false
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// classifyTransport классифицирует ошибку сетевого уровня (http.Client.Do)
func classifyTransport(op string, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindNetwork, op, "timeout", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindNetwork, op, "timeout", err)
	default:
		return newError(KindNetwork, op, "request failed", err)
	}
}

// classifyStatus классифицирует HTTP статус, отличный от 2xx
func classifyStatus(op string, status int) *Error {
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(KindAuth, op, msg, nil)
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return newError(KindNetwork, op, msg, nil)
	default:
		return newError(KindMalformed, op, msg, nil)
	}
}

// classifyMessage классифицирует ответ {success:false, error:"..."}
func classifyMessage(op, msg string) *Error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not connected"),
		strings.Contains(lower, "failed to initialize"),
		strings.Contains(lower, "failed to get account info"):
		return newError(KindNetwork, op, msg, nil)
	case op == opConnect && (strings.Contains(lower, "login") ||
		strings.Contains(lower, "authorization") ||
		strings.Contains(lower, "password")):
		return newError(KindAuth, op, msg, nil)
	default:
		return newError(KindRejected, op, msg, nil)
	}
}
