// Package schema loads and caches the protobuf schema used by the
// schema-defined binary format.
//
// A Registry loads its definition at most once per lifetime. Concurrent
// Resolve calls made before the first load completes share one in-flight
// load. A failed load is not remembered, so the next call starts over.
package schema

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bufbuild/protocompile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/Sternrassler/userdata-client/pkg/logging"
)

// TracerName is the instrumentation name used for schema spans.
const TracerName = "github.com/Sternrassler/userdata-client/pkg/schema"

// schemaFile is the virtual file name the definition is compiled under.
const schemaFile = "data.proto"

// Registry resolves the DataResponse message descriptor.
type Registry struct {
	source      Source
	messageName protoreflect.FullName
	logger      zerolog.Logger
	tracer      trace.Tracer

	handle atomic.Pointer[Handle]
	group  singleflight.Group
	loads  atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for load events.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTracerProvider sets the provider used for load spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		if tp != nil {
			r.tracer = tp.Tracer(TracerName)
		}
	}
}

// NewRegistry creates a registry that loads messageName from source.
// An empty messageName selects DefaultMessage.
func NewRegistry(source Source, messageName string, opts ...Option) *Registry {
	if source == nil {
		panic("schema source cannot be nil")
	}
	if messageName == "" {
		messageName = DefaultMessage
	}

	r := &Registry{
		source:      source,
		messageName: protoreflect.FullName(messageName),
		logger:      log.With().Str(logging.FieldComponent, "schema-registry").Logger(),
		tracer:      otel.GetTracerProvider().Tracer(TracerName),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r
}

// Resolve returns the cached Handle, loading it first if needed.
//
// If ctx ends while a load is in flight, Resolve returns ctx.Err() but the
// load keeps running and its result is retained for later callers.
func (r *Registry) Resolve(ctx context.Context) (*Handle, error) {
	if h := r.handle.Load(); h != nil {
		return h, nil
	}

	ch := r.group.DoChan(string(r.messageName), func() (any, error) {
		// Another caller may have stored the handle between our fast-path
		// check and entering the group.
		if h := r.handle.Load(); h != nil {
			return h, nil
		}
		h, err := r.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.handle.Store(h)
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		h, _ := res.Val.(*Handle)
		return h, nil
	}
}

// Cached returns the handle if it has been loaded, or nil.
func (r *Registry) Cached() *Handle {
	return r.handle.Load()
}

// Origin describes the source the registry loads from.
func (r *Registry) Origin() string {
	return r.source.Origin()
}

// Loads returns the number of load attempts started so far.
func (r *Registry) Loads() int64 {
	return r.loads.Load()
}

// load fetches, compiles and resolves the definition.
func (r *Registry) load(ctx context.Context) (*Handle, error) {
	r.loads.Add(1)
	origin := r.source.Origin()

	ctx, span := r.tracer.Start(ctx, "userdata.schema.load",
		trace.WithAttributes(
			attribute.String("userdata.schema.origin", origin),
			attribute.String("userdata.schema.message", string(r.messageName)),
		),
	)
	defer span.End()

	h, err := r.compile(ctx, origin)
	if err != nil {
		SchemaLoads.WithLabelValues("failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error().Err(err).Str(logging.FieldSchemaOrigin, origin).Msg("Schema load failed")
		return nil, err
	}

	SchemaLoads.WithLabelValues("success").Inc()
	r.logger.Info().
		Str(logging.FieldSchemaOrigin, origin).
		Str(logging.FieldSchemaMessage, string(r.messageName)).
		Msg("Schema loaded")
	return h, nil
}

func (r *Registry) compile(ctx context.Context, origin string) (*Handle, error) {
	src, err := r.source.Load(ctx)
	if err != nil {
		return nil, &LoadError{Origin: origin, Stage: StageFetch, Err: err}
	}

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				schemaFile: string(src),
			}),
		}),
	}
	files, err := compiler.Compile(ctx, schemaFile)
	if err != nil {
		return nil, &LoadError{Origin: origin, Stage: StageParse, Err: err}
	}
	if len(files) == 0 {
		return nil, &LoadError{Origin: origin, Stage: StageParse, Err: fmt.Errorf("no files compiled")}
	}

	md := findMessage(files[0], r.messageName)
	if md == nil {
		return nil, &LoadError{
			Origin: origin,
			Stage:  StageResolve,
			Err:    fmt.Errorf("message %s not found", r.messageName),
		}
	}

	h, err := newHandle(md, origin)
	if err != nil {
		return nil, &LoadError{Origin: origin, Stage: StageResolve, Err: err}
	}
	return h, nil
}
