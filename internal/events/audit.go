package events

import (
	"encoding/json"
	"log/slog"

	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// AuditLog пишет доменные события из очереди аудита в журнал сервиса.
type AuditLog struct {
	log *slog.Logger
}

// NewAuditLog создаёт обработчик очереди аудита.
func NewAuditLog(log *slog.Logger) *AuditLog {
	return &AuditLog{log: log.With(slog.String("component", "audit"))}
}

// Handle разбирает сообщение и записывает его. Неразборчивые сообщения
// отбрасываются, чтобы не возвращаться в очередь бесконечно.
func (a *AuditLog) Handle(body []byte) error {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		a.log.Warn("drop malformed event", slog.Int("size", len(body)), sl.Err(err))
		return nil
	}
	if e.Type == "" {
		a.log.Warn("drop event without type", sl.Profile(e.ProfileID))
		return nil
	}

	attrs := []any{
		slog.String("type", e.Type),
		sl.Profile(e.ProfileID),
		slog.String("user_id", e.UserID),
		slog.Time("at", e.At),
	}
	if e.SurveyID != "" {
		attrs = append(attrs, slog.String("survey_id", e.SurveyID))
	}
	if e.Amount != 0 {
		attrs = append(attrs, slog.Int64("amount", e.Amount))
	}
	a.log.Info("domain event", attrs...)
	return nil
}
