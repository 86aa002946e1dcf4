package crdt

import "fmt"

// DecodeError ошибка декодирования байтов дельты. Всегда фатальна для
// конкретного вызова merge: документ остается в прежнем состоянии,
// применение дельты атомарно.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed document delta: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
