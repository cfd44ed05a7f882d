// Package client provides the user data client: conditional fetching of the
// user collection in one of three wire formats and publication of the
// decoded snapshot.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/userdata-client/pkg/codec"
	"github.com/Sternrassler/userdata-client/pkg/dataset"
	"github.com/Sternrassler/userdata-client/pkg/logging"
	"github.com/Sternrassler/userdata-client/pkg/schema"
	"github.com/Sternrassler/userdata-client/pkg/validators"
)

// Prometheus metrics for data requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userdata_requests_total",
		Help: "Total data requests by format and status",
	}, []string{"format", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userdata_request_duration_seconds",
		Help:    "Refresh duration in seconds by format",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"format"})

	payloadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userdata_payload_bytes",
		Help:    "Response body size by format and stage (wire, decoded)",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{"format", "stage"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userdata_errors_total",
		Help: "Total failed refreshes by error kind",
	}, []string{"kind"})

	notModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userdata_not_modified_total",
		Help: "Total 304 Not Modified responses",
	})
)

// TracerName is the instrumentation name used for refresh spans.
const TracerName = "github.com/Sternrassler/userdata-client/pkg/client"

// Defaults applied by DefaultConfig and New.
const (
	DefaultDataPath       = "/data"
	DefaultSchemaPath     = "/data.proto"
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxBodyBytes   = 64 << 20
)

// State is the loading state of a client.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
)

// Outcome is the terminal result of one refresh.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeFailed      Outcome = "failed"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the data server, e.g. "http://localhost:8000" (REQUIRED)
	BaseURL string

	// DataPath is joined to BaseURL for the data resource.
	DataPath string

	// SchemaPath is joined to BaseURL to fetch the .proto definition.
	SchemaPath string

	// SchemaMessage is the full name of the top-level message.
	SchemaMessage string

	// SchemaSource overrides where the schema definition is loaded from.
	SchemaSource schema.Source

	// HTTPClient overrides the transport. RequestTimeout is ignored when set.
	HTTPClient *http.Client

	RequestTimeout time.Duration

	// AcceptCompression advertises zstd and gzip content encodings.
	AcceptCompression bool

	// MaxBodyBytes bounds the decoded response body.
	MaxBodyBytes int64

	UserAgent string

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger

	// TracerProvider defaults to the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns a default configuration for the given server.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		DataPath:          DefaultDataPath,
		SchemaPath:        DefaultSchemaPath,
		SchemaMessage:     schema.DefaultMessage,
		RequestTimeout:    DefaultRequestTimeout,
		AcceptCompression: true,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		UserAgent:         "userdata-client/0.1.0",
	}
}

// Result describes one completed refresh.
type Result struct {
	Format codec.Format

	// Snapshot is the newly published snapshot; nil when NotModified.
	Snapshot *dataset.Snapshot

	NotModified bool
	StatusCode  int

	// Validators in effect after the response was observed.
	Validators validators.Validators

	// WireBytes is the body size as received; PayloadBytes after
	// content decoding.
	WireBytes    int64
	PayloadBytes int

	Duration  time.Duration
	RequestID string

	// Shared is true when this caller joined a refresh already in flight
	// for the same format.
	Shared bool
}

// Status is a point-in-time view of the client's refresh state.
type Status struct {
	State       State
	InFlight    int
	LastFormat  codec.Format
	LastOutcome Outcome
	LastError   error
	LastRefresh time.Time
}

// Client fetches and publishes user snapshots.
//
// Refresh calls for the same format are coalesced onto one in-flight
// request. Refresh calls for different formats run independently and the
// last one to finish publishes its snapshot (last writer wins).
type Client struct {
	httpClient *http.Client
	dataURL    string
	schemas    *schema.Registry
	validators *validators.Store
	config     Config
	logger     zerolog.Logger
	tracer     trace.Tracer

	group    singleflight.Group
	inFlight atomic.Int32

	mu       sync.RWMutex
	snapshot *dataset.Snapshot
	status   Status
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("request_timeout must be >= 0 (got %s)", cfg.RequestTimeout)
	}
	if cfg.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("max_body_bytes must be >= 0 (got %d)", cfg.MaxBodyBytes)
	}

	if cfg.DataPath == "" {
		cfg.DataPath = DefaultDataPath
	}
	if cfg.SchemaPath == "" {
		cfg.SchemaPath = DefaultSchemaPath
	}
	if cfg.SchemaMessage == "" {
		cfg.SchemaMessage = schema.DefaultMessage
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	logger := log.With().Str(logging.FieldComponent, "userdata-client").Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str(logging.FieldComponent, "userdata-client").Logger()
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	source := cfg.SchemaSource
	if source == nil {
		source = &schema.HTTPSource{
			URL:       base.JoinPath(cfg.SchemaPath).String(),
			Client:    httpClient,
			UserAgent: cfg.UserAgent,
		}
	}

	return &Client{
		httpClient: httpClient,
		dataURL:    base.JoinPath(cfg.DataPath).String(),
		schemas: schema.NewRegistry(source, cfg.SchemaMessage,
			schema.WithLogger(logger),
			schema.WithTracerProvider(tp),
		),
		validators: validators.NewStore(),
		config:     cfg,
		logger:     logger,
		tracer:     tp.Tracer(TracerName),
		status:     Status{State: StateIdle},
	}, nil
}

// Refresh fetches the user collection in the given format.
//
// On success the decoded snapshot replaces the published one. On 304 Not
// Modified the result has NotModified set and the published snapshot is
// kept. On failure a *FetchError is returned and the published snapshot
// is kept.
//
// A refresh cannot be cancelled once started. If ctx ends first, Refresh
// returns ctx.Err() while the refresh completes in the background and
// still publishes its result.
func (c *Client) Refresh(ctx context.Context, format codec.Format) (*Result, error) {
	if !format.Valid() {
		errorsTotal.WithLabelValues(string(KindInvalidFormat)).Inc()
		return nil, &FetchError{
			Kind:    KindInvalidFormat,
			Format:  format,
			Message: "unsupported format",
			Err:     codec.ErrUnknownFormat,
		}
	}

	ch := c.group.DoChan(string(format), func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), format)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r := *res.Val.(*Result)
		r.Shared = res.Shared
		if r.Shared {
			c.logger.Debug().
				Str(logging.FieldFormat, string(format)).
				Str(logging.FieldRequestID, r.RequestID).
				Bool(logging.FieldShared, true).
				Msg("Joined in-flight refresh")
		}
		return &r, nil
	}
}

// refresh performs one conditional fetch and publishes its outcome.
func (c *Client) refresh(ctx context.Context, format codec.Format) (res *Result, err error) {
	requestID := uuid.NewString()
	logger := c.logger.With().
		Str(logging.FieldFormat, string(format)).
		Str(logging.FieldRequestID, requestID).
		Logger()

	start := time.Now()
	c.begin()
	defer func() {
		requestDuration.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
		c.finish(format, res, err)
	}()

	ctx, span := c.tracer.Start(ctx, "userdata.refresh",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("userdata.format", string(format)),
			attribute.String("userdata.request_id", requestID),
		),
	)
	defer func() {
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("userdata.outcome", string(OutcomeFailed)))
		case res.NotModified:
			span.SetAttributes(attribute.String("userdata.outcome", string(OutcomeNotModified)))
		default:
			span.SetAttributes(
				attribute.String("userdata.outcome", string(OutcomeSuccess)),
				attribute.Int("userdata.payload_bytes", res.PayloadBytes),
			)
		}
		span.End()
	}()

	// The schema is resolved before the transfer so a schema failure never
	// advances the stored validators.
	var handle *schema.Handle
	if format.NeedsSchema() {
		handle, err = c.schemas.Resolve(ctx)
		if err != nil {
			return nil, c.failed(logger, &FetchError{
				Kind:    KindSchemaLoad,
				Format:  format,
				Message: "schema could not be loaded",
				Err:     fmt.Errorf("%w: %w", codec.ErrSchemaUnavailable, err),
			})
		}
	}

	req, err := c.newRequest(ctx, format, requestID)
	if err != nil {
		return nil, c.failed(logger, &FetchError{
			Kind:    KindTransport,
			Format:  format,
			Message: "create request",
			Err:     err,
		})
	}

	logger.Debug().
		Str(logging.FieldETag, req.Header.Get(validators.HeaderIfNoneMatch)).
		Str(logging.FieldLastModified, req.Header.Get(validators.HeaderIfModifiedSince)).
		Msg("Executing data request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(string(format), "network_error").Inc()
		return nil, c.failed(logger, &FetchError{
			Kind:    KindTransport,
			Format:  format,
			Message: "request failed",
			Err:     err,
		})
	}
	defer resp.Body.Close()

	// Validators are recorded for every response, including errors.
	current := c.validators.Observe(resp.Header)
	logger.Debug().
		Int(logging.FieldStatusCode, resp.StatusCode).
		Str(logging.FieldETag, current.ETag).
		Str(logging.FieldLastModified, current.LastModified).
		Msg("Validators observed")

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	requestsTotal.WithLabelValues(string(format), strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified {
		_, _ = io.Copy(io.Discard, resp.Body)
		notModifiedTotal.Inc()
		logger.Info().Msg("304 Not Modified - keeping published snapshot")

		return &Result{
			Format:      format,
			NotModified: true,
			StatusCode:  resp.StatusCode,
			Validators:  current,
			Duration:    time.Since(start),
			RequestID:   requestID,
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, c.failed(logger, &FetchError{
			Kind:       KindStatus,
			Format:     format,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Err:        statusDetail(detail),
		})
	}

	body, wireBytes, err := readBody(resp, format, c.config.MaxBodyBytes)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.StatusCode = resp.StatusCode
			return nil, c.failed(logger, fe)
		}
		return nil, c.failed(logger, &FetchError{
			Kind:       KindDecode,
			Format:     format,
			StatusCode: resp.StatusCode,
			Message:    "invalid response body",
			Err:        err,
		})
	}

	snap, err := codec.Decode(body, format, handle)
	if err != nil {
		kind := KindDecode
		if errors.Is(err, codec.ErrSchemaUnavailable) {
			kind = KindSchemaUnavailable
		}
		return nil, c.failed(logger, &FetchError{
			Kind:       kind,
			Format:     format,
			StatusCode: resp.StatusCode,
			Message:    "payload could not be decoded",
			Err:        err,
		})
	}

	c.publish(snap)

	payloadBytes.WithLabelValues(string(format), "wire").Observe(float64(wireBytes))
	payloadBytes.WithLabelValues(string(format), "decoded").Observe(float64(len(body)))

	logger.Info().
		Int(logging.FieldUsers, snap.Len()).
		Int64(logging.FieldTotal, snap.Total).
		Int64(logging.FieldWireBytes, wireBytes).
		Int(logging.FieldPayloadBytes, len(body)).
		Dur("duration", time.Since(start)).
		Msg("Snapshot published")

	return &Result{
		Format:       format,
		Snapshot:     snap,
		StatusCode:   resp.StatusCode,
		Validators:   current,
		WireBytes:    wireBytes,
		PayloadBytes: len(body),
		Duration:     time.Since(start),
		RequestID:    requestID,
	}, nil
}

// newRequest builds the conditional GET for format.
func (c *Client) newRequest(ctx context.Context, format codec.Format, requestID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dataURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", format.MediaType())
	validators.Apply(req, c.validators.Current())
	req.Header.Set("X-Request-ID", requestID)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.AcceptCompression {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return req, nil
}

// failed records and logs a failed refresh and returns fe.
func (c *Client) failed(logger zerolog.Logger, fe *FetchError) error {
	errorsTotal.WithLabelValues(string(fe.Kind)).Inc()

	event := logger.Warn()
	if fe.Kind == KindTransport || fe.Kind == KindSchemaLoad {
		event = logger.Error()
	}
	event.Err(fe.Err).
		Str(logging.FieldErrorKind, string(fe.Kind)).
		Int(logging.FieldStatusCode, fe.StatusCode).
		Msg(fe.Message)

	return fe
}

func (c *Client) begin() {
	n := c.inFlight.Add(1)

	c.mu.Lock()
	c.status.State = StateLoading
	c.status.InFlight = int(n)
	c.mu.Unlock()
}

// finish runs on every terminal outcome.
func (c *Client) finish(format codec.Format, res *Result, err error) {
	n := c.inFlight.Add(-1)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.InFlight = int(n)
	if n == 0 {
		c.status.State = StateIdle
	}
	c.status.LastFormat = format
	c.status.LastRefresh = time.Now()
	c.status.LastError = err
	switch {
	case err != nil:
		c.status.LastOutcome = OutcomeFailed
	case res != nil && res.NotModified:
		c.status.LastOutcome = OutcomeNotModified
	default:
		c.status.LastOutcome = OutcomeSuccess
	}
}

func (c *Client) publish(snap *dataset.Snapshot) {
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
}

// Snapshot returns the published snapshot, or nil before the first
// successful refresh. The returned value must not be modified.
func (c *Client) Snapshot() *dataset.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Status returns the current refresh state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Validators returns the validators the next request will send.
func (c *Client) Validators() validators.Validators {
	return c.validators.Current()
}

// Schemas returns the schema registry (for testing and warm-up).
func (c *Client) Schemas() *schema.Registry {
	return c.schemas
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// statusDetail wraps a short excerpt of an error body, if any.
func statusDetail(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	return errors.New(string(body))
}
