// Пакет source — HTTP-клиент медиа-индекса, поставляющего кандидатов
// на кэширование (on-deck, watchlist, pinned) в порядке приоритета.
// Политика retry и rate-limit — на стороне медиа-индекса: движок трактует
// сбой поставщика как пустое множество кандидатов на этот проход.
package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// Метрики кэша ответов медиа-индекса
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ce_source_cache_hits_total",
		Help: "Попадания в кэш ответов медиа-индекса",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ce_source_cache_misses_total",
		Help: "Промахи кэша ответов медиа-индекса",
	})
)

// candidatesCacheKey — единственный ключ кэша ответов.
const candidatesCacheKey = "candidates"

// Config — параметры клиента медиа-индекса.
type Config struct {
	// BaseURL — базовый URL медиа-индекса (например, http://media-index:32400)
	BaseURL string
	// Token — токен доступа, передаётся в заголовке Authorization
	Token string
	// CACertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул)
	CACertPath string
	// Timeout — таймаут HTTP-запросов
	Timeout time.Duration
	// CacheTTL — время жизни закэшированного ответа; ноль отключает кэш
	CacheTTL time.Duration
}

// Client — HTTP-клиент медиа-индекса.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger

	// cache смягчает близко идущие проходы (ручной запуск поверх расписания)
	cache *expirable.LRU[string, []model.CacheCandidate]
}

// New создаёт клиент медиа-индекса.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата медиа-индекса: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат медиа-индекса добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		logger:     logger.With(slog.String("component", "media_index_client")),
	}
	if cfg.CacheTTL > 0 {
		c.cache = expirable.NewLRU[string, []model.CacheCandidate](4, nil, cfg.CacheTTL)
	}
	return c, nil
}

// candidateRecord — формат одного кандидата в ответе медиа-индекса.
type candidateRecord struct {
	LogicalPath string `json:"logical_path"`
	Reason      string `json:"reason"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Candidates запрашивает упорядоченный список кандидатов.
// GET /api/v1/candidates. Порядок ответа сохраняется: ранжирование
// медиа-индекса кодирует приоритет допуска в бюджет.
func (c *Client) Candidates(ctx context.Context) ([]model.CacheCandidate, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(candidatesCacheKey); ok {
			cacheHitsTotal.Inc()
			return cached, nil
		}
		cacheMissesTotal.Inc()
	}

	reqURL := c.baseURL + "/api/v1/candidates"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса candidates: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос candidates к %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("медиа-индекс вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var records []candidateRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("декодирование ответа медиа-индекса: %w", err)
	}

	candidates := make([]model.CacheCandidate, 0, len(records))
	for _, r := range records {
		if r.LogicalPath == "" {
			continue
		}
		candidates = append(candidates, model.CacheCandidate{
			LogicalPath: r.LogicalPath,
			Reason:      model.CandidateReason(r.Reason),
			SizeBytes:   r.SizeBytes,
		})
	}

	if c.cache != nil {
		c.cache.Add(candidatesCacheKey, candidates)
	}

	c.logger.Debug("Кандидаты получены",
		slog.Int("count", len(candidates)),
	)
	return candidates, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
