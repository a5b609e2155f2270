package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/credential"
	"github.com/Additional-Code/ordergate/internal/entity"
)

var (
	repoTracer = otel.Tracer("github.com/Additional-Code/ordergate/repository/order")
	repoMeter  = otel.Meter("github.com/Additional-Code/ordergate/repository/order")
)

const maxErrorBody = 512

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// ListResult is one page of the order listing.
type ListResult struct {
	Items []entity.Order
	// Total is the backend's count of matching orders, which may exceed
	// len(Items) when the listing limit truncated the page.
	Total int64
}

// Repository talks to the REST order backend.
type Repository struct {
	client      *http.Client
	base        *url.URL
	entity      string
	tokenHeader string
	limit       int
	logger      *zap.Logger
	duration    metric.Float64Histogram
}

// NewRepository wires a repository against the configured backend.
func NewRepository(cfg config.Config, logger *zap.Logger) (*Repository, error) {
	return New(cfg.Backend, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Backend.Timeout,
	}, logger)
}

// New builds a Repository using the supplied HTTP client.
func New(cfg config.Backend, client *http.Client, logger *zap.Logger) (*Repository, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	duration, err := repoMeter.Float64Histogram("backend.request.duration",
		metric.WithDescription("Latency of REST backend calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("backend duration histogram: %w", err)
	}
	return &Repository{
		client:      client,
		base:        base,
		entity:      cfg.OrderEntity,
		tokenHeader: cfg.TokenHeader,
		limit:       cfg.ListLimit,
		logger:      logger.Named("backend"),
		duration:    duration,
	}, nil
}

// List fetches up to the configured limit of orders, optionally only those
// updated strictly after since.
func (r *Repository) List(ctx context.Context, since *string) (ListResult, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	query := url.Values{}
	query.Set("num", strconv.Itoa(r.limit))
	if since != nil && *since != "" {
		query.Set("q", "updateDate=gt="+*since)
		span.SetAttributes(attribute.String("order.since", *since))
	}

	body, err := r.do(ctx, http.MethodGet, r.path("v2"), query, nil, "")
	if err != nil {
		recordError(span, err)
		return ListResult{}, err
	}

	res := ListResult{Total: gjson.GetBytes(body, "total").Int()}
	if items := gjson.GetBytes(body, "items"); items.Exists() && items.IsArray() {
		if err := json.Unmarshal([]byte(items.Raw), &res.Items); err != nil {
			recordError(span, err)
			return ListResult{}, fmt.Errorf("decode order list: %w", err)
		}
	}
	if res.Items == nil {
		res.Items = []entity.Order{}
	}
	span.SetAttributes(attribute.Int("order.count", len(res.Items)))
	return res, nil
}

// Limit is the page size sent with every listing.
func (r *Repository) Limit() int {
	return r.limit
}

// Get fetches a single order by number.
func (r *Repository) Get(ctx context.Context, number string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Get", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	body, err := r.do(ctx, http.MethodGet, r.path("v2", number), nil, nil, "")
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	order := new(entity.Order)
	if err := json.Unmarshal(body, order); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("decode order %s: %w", number, err)
	}
	return order, nil
}

// Create posts a new order record.
func (r *Repository) Create(ctx context.Context, order entity.Order) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.number", order.OrderNumber)))
	defer span.End()

	payload, err := order.MarshalBackend()
	if err != nil {
		recordError(span, err)
		return err
	}
	if _, err := r.do(ctx, http.MethodPost, r.path("v1"), nil, payload, "application/json"); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

// Update replaces the full order record.
func (r *Repository) Update(ctx context.Context, order entity.Order) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(attribute.String("order.number", order.OrderNumber)))
	defer span.End()

	payload, err := order.MarshalBackend()
	if err != nil {
		recordError(span, err)
		return err
	}
	if _, err := r.do(ctx, http.MethodPut, r.path("v1", order.OrderNumber), nil, payload, "application/json"); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

// UpdateContents writes the raw contents attribute of an order.
func (r *Repository) UpdateContents(ctx context.Context, number, contents string) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.UpdateContents", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	if _, err := r.do(ctx, http.MethodPut, r.path("v1", number, "contents"), nil, []byte(contents), "application/json"); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (r *Repository) path(version string, segments ...string) string {
	parts := []string{version, r.entity}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return strings.Join(parts, "/")
}

func (r *Repository) do(ctx context.Context, method, ref string, query url.Values, body []byte, contentType string) ([]byte, error) {
	token, ok := credential.FromContext(ctx)
	if !ok {
		return nil, credential.ErrMissing
	}

	rel, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("build backend url: %w", err)
	}
	if query != nil {
		rel.RawQuery = query.Encode()
	}
	target := r.base.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(r.tokenHeader, token)

	start := time.Now()
	resp, err := r.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		r.observe(ctx, method, 0, elapsed)
		r.logger.Warn("backend request failed",
			zap.String("method", method),
			zap.String("path", rel.Path),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	r.observe(ctx, method, resp.StatusCode, elapsed)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			Method:     method,
			Path:       rel.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
		r.logger.Warn("backend returned error",
			zap.String("method", method),
			zap.String("path", rel.Path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", elapsed),
			zap.String("message", statusErr.Message),
		)
		return nil, statusErr
	}

	r.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", rel.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
	)
	return respBody, nil
}

func (r *Repository) observe(ctx context.Context, method string, status int, elapsed time.Duration) {
	r.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.Int("http.status_code", status),
	))
}

// errorMessage pulls the first backend error message, falling back to the
// (truncated) body text.
func errorMessage(body []byte) string {
	for _, path := range []string{"errors.0.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return msg
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
