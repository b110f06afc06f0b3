// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// MaxCodeLength: максимальная длина подарочного кода.
const MaxCodeLength = 64

// IsValidGiftCode проверяет формат подарочного кода: латинские буквы, цифры,
// дефис и подчёркивание, длина от 1 до MaxCodeLength.
func IsValidGiftCode(code string) bool {
	if code == "" || len(code) > MaxCodeLength {
		return false
	}

	for _, ch := range code {
		if ch > unicode.MaxASCII {
			return false
		}
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '-' || ch == '_' {
			continue
		}
		return false
	}

	return true
}

// IsAllowedDenomination проверяет номинал. Пустой список allowed допускает
// любой положительный номинал.
func IsAllowedDenomination(denomination int, allowed []int) bool {
	if denomination <= 0 {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == denomination {
			return true
		}
	}
	return false
}
