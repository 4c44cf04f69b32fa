package imagegen

import (
	"errors"
	"fmt"
)

// ConfigurationError означает, что провайдера нельзя вызвать вообще,
// обычно из-за ненастроенного ключа. Не повторяется.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
}

// ProviderError означает, что провайдер ответил неуспешным статусом или
// телом, которое не является изображением.
type ProviderError struct {
	Provider string
	Status   int
	Detail   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error [%d]: %s", e.Provider, e.Status, e.Detail)
}

// NetworkError оборачивает таймауты и сбои соединения.
type NetworkError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: network error: %v", e.Provider, e.Err)
}

func newNetworkError(provider string, err error) *NetworkError {
	return &NetworkError{Provider: provider, Timeout: isTimeout(err), Err: err}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsConfiguration сообщает, является ли err *ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsRetryable сообщает, может ли помочь ещё одна попытка. Неизвестные
// ошибки считаются временными.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsConfiguration(err)
}
