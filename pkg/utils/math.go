package utils

import (
	"math"
)

// math.go - математика для счёта и позиций
//
// Все функции чистые, без побочных эффектов.

// ContractSize - номинал стандартного лота (единиц базовой валюты)
const ContractSize = 100000

// PipValuePerLot - упрощённая стоимость пункта для стандартного лота
const PipValuePerLot = 10

// RoundToLotSize округляет объём ВНИЗ до шага lotSize.
// Если lotSize <= 0, возвращает исходное значение.
//
// Примеры:
//   - RoundToLotSize(0.127, 0.01) = 0.12
//   - RoundToLotSize(1.999, 0.1) = 1.9
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// небольшой эпсилон гасит ошибки представления вида 0.29999999
	return math.Floor(value/lotSize+1e-9) * lotSize
}

// RoundTo округляет значение до decimals знаков после запятой
func RoundTo(value float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(value*p) / p
}

// CalculatePNL считает плавающую прибыль позиции в валюте котировки.
//
// Формула:
//   - long:  (current - entry) × lots × ContractSize
//   - short: (entry - current) × lots × ContractSize
func CalculatePNL(side string, entryPrice, currentPrice, lots float64) float64 {
	if lots <= 0 {
		return 0
	}

	switch side {
	case "long":
		return (currentPrice - entryPrice) * lots * ContractSize
	case "short":
		return (entryPrice - currentPrice) * lots * ContractSize
	default:
		return 0
	}
}

// Mean возвращает среднее значение (0 для пустого среза)
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev возвращает выборочное стандартное отклонение (0 при n < 2)
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
