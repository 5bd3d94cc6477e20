// Package catalog загружает каталог опросов из внешнего источника и кеширует его.
//
// Сначала запрашивается коллекция опросов; если она недоступна, не JSON или
// не разбирается, запрашивается дамп всей базы и из него берётся поле surveys.
// Успешный результат запоминается на время жизни сервиса (или на TTL),
// неудачи не запоминаются.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/magabrotheeeer/pesapoll/internal/config"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/metrics"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// Источники каталога для логов и метрик.
const (
	SourceCollection = "collection"
	SourceDatabase   = "database"
)

// Service кеш каталога опросов.
type Service struct {
	log           *slog.Logger
	client        *resty.Client
	collectionURL string
	databaseURL   string
	ttl           time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time

	mu       sync.Mutex
	snapshot []models.Survey
	loadedAt time.Time
}

// New создаёт кеш каталога. m может быть nil.
func New(log *slog.Logger, cfg config.Catalog, m *metrics.Metrics) *Service {
	client := resty.New().
		SetHeader("Accept", "application/json").
		SetHeader("Cache-Control", "no-store").
		SetTimeout(cfg.Timeout)

	return &Service{
		log:           log,
		client:        client,
		collectionURL: cfg.CollectionURL,
		databaseURL:   cfg.DatabaseURL,
		ttl:           cfg.TTL,
		metrics:       m,
		now:           time.Now,
	}
}

// Load возвращает каталог. Первый вызов обращается к источнику, параллельные
// вызовы ждут его результата. Если оба источника недоступны, возвращается
// ошибка, совместимая с models.ErrCatalogUnavailable.
func (s *Service) Load(ctx context.Context) ([]models.Survey, error) {
	const op = "catalog.Load"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && (s.ttl <= 0 || s.now().Sub(s.loadedAt) < s.ttl) {
		return slices.Clone(s.snapshot), nil
	}

	surveys, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.snapshot = surveys
	s.loadedAt = s.now()
	return slices.Clone(surveys), nil
}

// Reset сбрасывает запомненный каталог.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.loadedAt = time.Time{}
}

// Find возвращает опрос по идентификатору или models.ErrSurveyNotFound.
func (s *Service) Find(ctx context.Context, surveyID string) (*models.Survey, error) {
	const op = "catalog.Find"
	surveys, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i := range surveys {
		if surveys[i].ID == surveyID {
			return &surveys[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %s: %w", op, surveyID, models.ErrSurveyNotFound)
}

func (s *Service) fetch(ctx context.Context) ([]models.Survey, error) {
	collection, errCollection := s.fetchCollection(ctx)
	s.metrics.CatalogFetch(SourceCollection, errCollection == nil)
	if errCollection == nil {
		s.log.Debug("catalog loaded", slog.String("source", SourceCollection), slog.Int("surveys", len(collection)))
		return collection, nil
	}
	s.log.Warn("catalog collection unavailable, trying database", sl.Err(errCollection))

	database, errDatabase := s.fetchDatabase(ctx)
	s.metrics.CatalogFetch(SourceDatabase, errDatabase == nil)
	if errDatabase == nil {
		s.log.Debug("catalog loaded", slog.String("source", SourceDatabase), slog.Int("surveys", len(database)))
		return database, nil
	}
	s.log.Error("catalog unavailable", sl.Err(errDatabase))

	return nil, errors.Join(models.ErrCatalogUnavailable, errCollection, errDatabase)
}

// fetchCollection принимает массив опросов или объект с полем surveys.
func (s *Service) fetchCollection(ctx context.Context) ([]models.Survey, error) {
	body, err := s.getJSON(ctx, s.collectionURL)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		return s.decodeSurveys(SourceCollection, trimmed)
	}
	return s.decodeDatabase(SourceCollection, body)
}

func (s *Service) fetchDatabase(ctx context.Context) ([]models.Survey, error) {
	body, err := s.getJSON(ctx, s.databaseURL)
	if err != nil {
		return nil, err
	}
	return s.decodeDatabase(SourceDatabase, body)
}

func (s *Service) decodeDatabase(source string, body []byte) ([]models.Survey, error) {
	var db struct {
		Surveys json.RawMessage `json:"surveys"`
	}
	if err := json.Unmarshal(body, &db); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", source, err)
	}
	if len(db.Surveys) == 0 || string(db.Surveys) == "null" {
		return nil, fmt.Errorf("%s: response has no surveys", source)
	}
	return s.decodeSurveys(source, db.Surveys)
}

// decodeSurveys разбирает массив опросов. Отдельные неразборчивые записи пропускаются.
func (s *Service) decodeSurveys(source string, data []byte) ([]models.Survey, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", source, err)
	}
	surveys := make([]models.Survey, 0, len(items))
	for i, item := range items {
		var sv models.Survey
		if err := json.Unmarshal(item, &sv); err != nil {
			s.log.Warn("skip malformed survey", slog.String("source", source), slog.Int("index", i), sl.Err(err))
			continue
		}
		surveys = append(surveys, sv)
	}
	return surveys, nil
}

func (s *Service) getJSON(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("source url is not configured")
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("_", strconv.FormatInt(s.now().UnixMilli(), 10)).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode(), url)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header().Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return nil, fmt.Errorf("not JSON from %s: %q", url, resp.Header().Get("Content-Type"))
	}
	return resp.Body(), nil
}
