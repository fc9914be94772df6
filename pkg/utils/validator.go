package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация торговых данных
//
// Возвращает error с описанием проблемы или nil.

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-#]{1,19}$`)

// ValidateSymbol проверяет формат символа (EURUSD, EUR/USD, XAUUSD.m)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %q", symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к виду EURUSD:
// верхний регистр, без разделителей и без суффикса брокера после точки
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return strings.NewReplacer("/", "", "-", "", "_", "", "#", "").Replace(s)
}

// ExtractBaseCurrency возвращает базовую валюту (первые три символа).
// Для коротких символов возвращает пустую строку.
func ExtractBaseCurrency(symbol string) string {
	s := NormalizeSymbol(symbol)
	if len(s) < 3 {
		return ""
	}
	return s[:3]
}

// ExtractQuoteCurrency возвращает валюту котировки (символы 4-6)
func ExtractQuoteCurrency(symbol string) string {
	s := NormalizeSymbol(symbol)
	if len(s) < 6 {
		return ""
	}
	return s[3:6]
}

// PipSize возвращает размер пункта: 0.01 для пар к JPY, иначе 0.0001
func PipSize(symbol string) float64 {
	if ExtractQuoteCurrency(symbol) == "JPY" {
		return 0.01
	}
	return 0.0001
}

// ValidateVolume проверяет объём в лотах (0 < v <= 100)
func ValidateVolume(volume float64) error {
	if volume <= 0 {
		return fmt.Errorf("volume must be positive, got %v", volume)
	}
	if volume > 100 {
		return fmt.Errorf("volume must not exceed 100 lots, got %v", volume)
	}
	return nil
}

// ValidatePrice проверяет цену (0 = рыночная)
func ValidatePrice(price float64) error {
	if price < 0 {
		return fmt.Errorf("price cannot be negative, got %v", price)
	}
	return nil
}

// ValidateSide проверяет направление сделки
func ValidateSide(side string) error {
	switch side {
	case "long", "short":
		return nil
	default:
		return fmt.Errorf("side must be long or short, got %q", side)
	}
}

// ValidateCredentials проверяет данные входа в терминал
func ValidateCredentials(server string, accountNumber int64, password string) error {
	if strings.TrimSpace(server) == "" {
		return fmt.Errorf("server is required")
	}
	if accountNumber <= 0 {
		return fmt.Errorf("account_number must be positive, got %d", accountNumber)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}
