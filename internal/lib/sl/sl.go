// Package sl содержит вспомогательные функции для работы с логгером slog.
// Пакет упрощает формирование структурированных полей лога,
// например, для передачи информации об ошибках и идентификаторах профиля.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
// Для nil-ошибки возвращается пустая строка, чтобы лог не падал в panic.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Profile возвращает slog.Attr с идентификатором профиля браузера.
func Profile(profileID string) slog.Attr {
	return slog.String("profile_id", profileID)
}
