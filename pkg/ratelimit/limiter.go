package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter - token bucket для исходящих запросов к мосту
//
// Мост обслуживает один терминал, и частые запросы позиций
// от нескольких счетов не должны его перегружать.
//
// Использование:
//
//	limiter := NewRateLimiter(5, 10) // 5 req/sec, burst 10
//	err := limiter.Wait(ctx)         // блокирующее ожидание
//	if limiter.Allow() { ... }       // неблокирующая проверка
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter создаёт limiter.
// rate <= 0 - 10 req/sec, burst <= 0 - 2x rate.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = int(perSecond * 2)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Unlimited возвращает limiter без ограничений (для тестов)
func Unlimited() *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Wait блокируется до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow забирает токен без ожидания, если он есть
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Delay возвращает время ожидания следующего токена без его резервирования
func (rl *RateLimiter) Delay() time.Duration {
	r := rl.limiter.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}

// Rate возвращает текущую скорость (токенов в секунду)
func (rl *RateLimiter) Rate() float64 {
	return float64(rl.limiter.Limit())
}

// Burst возвращает ёмкость ведра
func (rl *RateLimiter) Burst() int {
	return rl.limiter.Burst()
}

// SetRate меняет скорость на лету
func (rl *RateLimiter) SetRate(perSecond float64) {
	if perSecond <= 0 {
		return
	}
	rl.limiter.SetLimit(rate.Limit(perSecond))
}
