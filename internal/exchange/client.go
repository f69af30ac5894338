package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"firisync/internal/models"
	"firisync/pkg/ratelimit"
	"firisync/pkg/retry"
	"firisync/pkg/utils"
)

// Endpoints API Firi
const (
	PathTime         = "/time"
	PathTransactions = "/v2/history/transactions"
	PathDeposits     = "/v2/deposit/history"
	PathOrders       = "/v2/history/orders"
	PathMarkets      = "/v2/markets"
)

// Области действия лимитера
const (
	RateScopeGlobal     = "global"
	RateScopeCredential = "credential"
)

// maxResponseSize - защита от бесконечного тела ответа
const maxResponseSize = 32 << 20

// StreamPath возвращает endpoint истории для потока
func StreamPath(stream models.Stream) (string, error) {
	switch stream {
	case models.StreamTransactions:
		return PathTransactions, nil
	case models.StreamDeposits:
		return PathDeposits, nil
	case models.StreamOrders:
		return PathOrders, nil
	default:
		return "", fmt.Errorf("unknown stream %q", stream)
	}
}

// ClientConfig - параметры клиента
type ClientConfig struct {
	BaseURL  string
	Validity int // окно подписи, секунды

	// RequestTimeout - таймаут одного HTTP запроса (0 - только таймаут http.Client)
	RequestTimeout time.Duration

	Retry retry.Config
	// RateLimitCooldown добавляется к задержке после 429
	RateLimitCooldown time.Duration
	// RateScope: global или credential
	RateScope string
}

// DefaultClientConfig возвращает конфигурацию по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://api.firi.com",
		Validity:          60,
		Retry:             retry.DefaultConfig(),
		RateLimitCooldown: time.Second,
		RateScope:         RateScopeCredential,
	}
}

// Client - клиент REST API Firi
//
// Каждый запрос: серверное время -> подпись -> структурная проверка ->
// слот лимитера -> HTTP. Подпись не переиспользуется между попытками.
// Безопасен для конкурентного использования.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	limiters *ratelimit.Registry
	logger   *zap.Logger
}

// NewClient создаёт клиента
func NewClient(cfg ClientConfig, httpClient *http.Client, limiters *ratelimit.Registry, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if limiters == nil {
		limiters = ratelimit.NewRegistry(6, time.Second, 150*time.Millisecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateScope == "" {
		cfg.RateScope = RateScopeCredential
	}

	return &Client{
		cfg:      cfg,
		http:     httpClient,
		limiters: limiters,
		logger:   logger.Named("firi"),
	}
}

// Limiter возвращает лимитер, через который идут запросы с этими учётными данными
func (c *Client) Limiter(creds models.Credentials) *ratelimit.Limiter {
	if c.cfg.RateScope == RateScopeGlobal {
		return c.limiters.Get("")
	}
	return c.limiters.Get(creds.APIKey)
}

// ============================================================
// Публичные операции
// ============================================================

// ServerTime возвращает серверное время биржи (epoch seconds)
func (c *Client) ServerTime(ctx context.Context, creds models.Credentials) (int64, error) {
	limiter := c.Limiter(creds)
	attempts := 0

	ts, err := retry.DoWithResult(ctx, func() (int64, error) {
		attempts++
		return c.serverTime(ctx, limiter)
	}, c.retryConfig(PathTime))
	if err != nil {
		return 0, c.finalError(ctx, PathTime, attempts, err)
	}
	return ts, nil
}

// FetchJSON выполняет подписанный GET и декодирует ответ в out
func (c *Client) FetchJSON(ctx context.Context, path string, query url.Values, creds models.Credentials, out interface{}) error {
	body, err := c.Fetch(ctx, path, query, creds)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("firi %s: decode response: %w", path, err)
	}
	return nil
}

// Fetch выполняет подписанный GET с повторами и возвращает тело ответа
//
// Ошибки:
//   - *AuthError - 401, без повторов
//   - *APIError - 4xx кроме 429, без повторов
//   - *ExhaustedError - повторы 5xx/429/транспорта исчерпаны
//   - ошибка контекста - вызов отменён
func (c *Client) Fetch(ctx context.Context, path string, query url.Values, creds models.Credentials) ([]byte, error) {
	limiter := c.Limiter(creds)
	attempts := 0

	body, err := retry.DoWithResult(ctx, func() ([]byte, error) {
		attempts++
		return c.signedGet(ctx, limiter, path, query, creds)
	}, c.retryConfig(path))
	if err != nil {
		return nil, c.finalError(ctx, path, attempts, err)
	}
	return body, nil
}

// FetchPage запрашивает одну страницу истории потока
//
// count - размер страницы, before - id последней полученной записи (nil - с начала).
func (c *Client) FetchPage(ctx context.Context, stream models.Stream, creds models.Credentials, count int, before *string) ([][]byte, error) {
	path, err := StreamPath(stream)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("count", strconv.Itoa(count))
	if before != nil && *before != "" {
		query.Set("before", *before)
	}

	body, err := c.Fetch(ctx, path, query, creds)
	if err != nil {
		return nil, err
	}

	items, err := DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("firi %s: %w", path, err)
	}
	return items, nil
}

// FetchMarkets запрашивает список рынков
// Нечитаемые элементы пропускаются, проверку полей делает Directory.
func (c *Client) FetchMarkets(ctx context.Context, creds models.Credentials) ([]MarketPayload, error) {
	body, err := c.Fetch(ctx, PathMarkets, nil, creds)
	if err != nil {
		return nil, err
	}

	items, err := DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("firi %s: %w", PathMarkets, err)
	}

	markets := make([]MarketPayload, 0, len(items))
	for i, item := range items {
		var m MarketPayload
		if err := json.Unmarshal(item, &m); err != nil {
			c.logger.Warn("skipping undecodable market", zap.Int("index", i), zap.Error(err))
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// ============================================================
// Одна попытка
// ============================================================

// serverTime - одна попытка GET /time (без подписи)
func (c *Client) serverTime(ctx context.Context, limiter *ratelimit.Limiter) (int64, error) {
	req, err := c.newRequest(ctx, PathTime, nil)
	if err != nil {
		return 0, retry.Permanent(err)
	}

	body, _, err := c.do(ctx, limiter, req, PathTime)
	if err != nil {
		return 0, err
	}

	ts, err := parseServerTime(body)
	if err != nil {
		return 0, fmt.Errorf("firi %s: %w", PathTime, err)
	}
	return ts, nil
}

// signedGet - одна попытка подписанного запроса со свежим серверным временем
func (c *Client) signedGet(ctx context.Context, limiter *ratelimit.Limiter, path string, query url.Values, creds models.Credentials) ([]byte, error) {
	serverTime, err := c.serverTime(ctx, limiter)
	if err != nil {
		return nil, err
	}

	headers, err := Sign(creds, serverTime, c.cfg.Validity)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if !ValidateHeaders(headers) {
		return nil, retry.Permanent(ErrInvalidHeaders)
	}

	req, err := c.newRequest(ctx, path, query)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	headers.Apply(req)

	body, status, err := c.do(ctx, limiter, req, path)
	if err != nil {
		var apiErr *APIError
		if status == http.StatusUnauthorized && errors.As(err, &apiErr) {
			return nil, retry.Permanent(&AuthError{
				Endpoint:  path,
				Timestamp: headers.Timestamp,
				Validity:  headers.Validity,
				Payload:   CanonicalPayload(serverTime, c.cfg.Validity),
				Body:      apiErr.Body,
			})
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("firi %s: build request: %w", path, err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do ждёт слот лимитера, выполняет запрос и классифицирует ответ
//
// Возвращает тело и статус. Ошибки размечены для retry:
// транспорт - Temporary, 429 - RetryAfter, 5xx - APIError (retryable),
// прочие 4xx - APIError (не retryable).
func (c *Client) do(ctx context.Context, limiter *ratelimit.Limiter, req *http.Request, endpoint string) ([]byte, int, error) {
	waitStart := time.Now()
	if err := limiter.WaitForSlot(ctx); err != nil {
		return nil, 0, err
	}
	LimiterWait.Observe(time.Since(waitStart).Seconds())

	if c.cfg.RequestTimeout > 0 {
		reqCtx, cancel := context.WithTimeout(req.Context(), c.cfg.RequestTimeout)
		defer cancel()
		req = req.WithContext(reqCtx)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	RequestDuration.WithLabelValues(endpoint).Observe(latency.Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, retry.Temporary(fmt.Errorf("firi %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, resp.StatusCode, retry.Temporary(fmt.Errorf("firi %s: read body: %w", endpoint, err))
	}

	status := resp.StatusCode
	RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.logger.Debug("firi response",
		utils.Endpoint(endpoint),
		utils.Status(status),
		utils.Latency(latency),
		utils.ByteLen("body", len(body)),
	)

	if status >= 200 && status < 300 {
		return body, status, nil
	}

	apiErr := &APIError{Endpoint: endpoint, Status: status, Body: truncateBody(body)}
	if status == http.StatusTooManyRequests {
		after := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, status, retry.RetryAfter(apiErr, after, c.cfg.RateLimitCooldown)
	}
	return nil, status, apiErr
}

// ============================================================
// Классификация
// ============================================================

func (c *Client) retryConfig(endpoint string) retry.Config {
	cfg := c.cfg.Retry
	cfg.RetryIf = retry.IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		RetriesTotal.WithLabelValues(endpoint, retryReason(err)).Inc()
		c.logger.Warn("retrying firi request",
			utils.Endpoint(endpoint),
			utils.Attempt(attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	return cfg
}

// finalError приводит ошибку после повторов к публичной таксономии
func (c *Client) finalError(ctx context.Context, endpoint string, attempts int, err error) error {
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		if IsAuthError(perm.Err) {
			c.logger.Error("firi rejected credentials", utils.Endpoint(endpoint), zap.Error(perm.Err))
		}
		return perm.Err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if !retry.IsRetryable(err) {
		return err
	}

	exhausted := &ExhaustedError{Endpoint: endpoint, Attempts: attempts, Err: err}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		exhausted.LastStatus = apiErr.Status
		exhausted.LastBody = apiErr.Body
	}
	c.logger.Error("firi retries exhausted",
		utils.Endpoint(endpoint),
		utils.Attempt(attempts),
		utils.Status(exhausted.LastStatus),
	)
	return exhausted
}

func retryReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return "status_429"
		}
		return "status_5xx"
	}
	return "transport"
}

// parseRetryAfter разбирает Retry-After: секунды или HTTP-дата
// Пустое или нечитаемое значение - 0 (задержка по расписанию).
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// parseServerTime принимает {"time": N} или голое число
func parseServerTime(body []byte) (int64, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return 0, ErrInvalidServerTime
	}

	var ts int64
	if body[0] == '{' {
		var tp TimePayload
		if err := json.Unmarshal(body, &tp); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidServerTime, err)
		}
		ts = tp.Time
	} else {
		n, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidServerTime, err)
		}
		ts = n
	}

	if ts <= 0 {
		return 0, ErrInvalidServerTime
	}
	// Миллисекунды приводим к секундам
	if ts > 1e12 {
		ts /= 1000
	}
	return ts, nil
}
