// Package notify содержит интерфейс системных уведомлений.
// Ядро синхронизации дергает его fire-and-forget: на разрешенных
// конфликтах и завершенных синхронизациях; ответ не требуется.
package notify

import "log/slog"

//go:generate moq -out notifier_mock.go . Notifier

// Notifier определяет интерфейс отправки системных уведомлений пользователю.
type Notifier interface {
	// SendSystemNotification отправляет уведомление; ошибки не возвращаются,
	// доставка best-effort
	SendSystemNotification(title, message string)
}

// LogNotifier реализует Notifier поверх slog.
// Реальные десктопные/мобильные уведомления подключаются оберткой
// на стороне UI; ядру достаточно журнала.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создает Notifier, пишущий уведомления в журнал.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendSystemNotification пишет уведомление в журнал.
func (n *LogNotifier) SendSystemNotification(title, message string) {
	n.logger.Info("System notification", "title", title, "message", message)
}
