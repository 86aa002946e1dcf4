package validation

import (
	"fmt"
	"regexp"
)

// ParcelIDPattern определяет допустимый формат идентификатора участка
// Латинские буквы (a-z, A-Z), цифры (0-9), дефис (-), нижнее подчеркивание (_)
// Длина: 1-64 символа; покрывает APN-номера вида "123-456-789"
var ParcelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// tagPattern запрещает пробельные символы в тегах
var tagPattern = regexp.MustCompile(`^\S+$`)

const (
	// MaxParcelIDLen максимальная длина идентификатора участка
	MaxParcelIDLen = 64
)

// ValidateParcelID проверяет, что идентификатор участка соответствует
// требованиям. Используется обработчиками сервера и клиентом до постановки
// операции в очередь.
func ValidateParcelID(parcelID string) error {
	if parcelID == "" {
		return fmt.Errorf("parcel id cannot be empty")
	}

	if len(parcelID) > MaxParcelIDLen {
		return fmt.Errorf("parcel id must not exceed %d characters", MaxParcelIDLen)
	}

	if !ParcelIDPattern.MatchString(parcelID) {
		return fmt.Errorf("parcel id can only contain letters (a-z, A-Z), numbers (0-9), hyphens (-), and underscores (_)")
	}

	return nil
}

// ValidateTag проверяет тег участка: непустой, без пробелов, до 48 символов.
func ValidateTag(tag string) error {
	const maxTagLen = 48

	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}

	if len(tag) > maxTagLen {
		return fmt.Errorf("tag must not exceed %d characters", maxTagLen)
	}

	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("tag cannot contain whitespace")
	}

	return nil
}
