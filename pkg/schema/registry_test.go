package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sternrassler/userdata-client/pkg/logging"
)

func TestRegistry_ResolveEmbedded(t *testing.T) {
	r := NewRegistry(EmbeddedSource(), "")

	h, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, "userdata.DataResponse", string(h.Message.FullName()))
	assert.Equal(t, "userdata.User", string(h.User.FullName()))
	assert.Equal(t, "embedded:data.proto", h.Origin)
	assert.True(t, h.MessageField(FieldUsers).IsList())
	assert.NotNil(t, h.UserField(FieldCity))
}

func TestRegistry_CachesHandle(t *testing.T) {
	r := NewRegistry(EmbeddedSource(), DefaultMessage)
	ctx := context.Background()

	first, err := r.Resolve(ctx)
	require.NoError(t, err)
	second, err := r.Resolve(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), r.Loads())
	assert.Same(t, first, r.Cached())
}

func TestRegistry_CoalescesConcurrentLoads(t *testing.T) {
	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})

	src := SourceFunc(func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return embeddedSchema, nil
	})
	r := NewRegistry(src, "")

	const callers = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		handles[0], errs[0] = r.Resolve(context.Background())
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = r.Resolve(context.Background())
		}(i)
	}

	// Let the late callers join the in-flight load before it finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "source should be loaded exactly once")
	assert.Equal(t, int64(1), r.Loads())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
}

func TestRegistry_FailureIsNotCached(t *testing.T) {
	var calls atomic.Int64
	src := SourceFunc(func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return embeddedSchema, nil
	})
	r := NewRegistry(src, "")

	_, err := r.Resolve(context.Background())
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageFetch, loadErr.Stage)
	assert.Nil(t, r.Cached())

	h, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRegistry_LoadErrors(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		message   string
		wantStage string
	}{
		{
			name:      "syntax error",
			source:    `syntax = "proto3"; message {`,
			wantStage: StageParse,
		},
		{
			name:      "message not found",
			source:    string(embeddedSchema),
			message:   "userdata.Missing",
			wantStage: StageResolve,
		},
		{
			name: "missing users field",
			source: `syntax = "proto3";
package userdata;
message DataResponse { int32 total = 2; string timestamp = 3; }`,
			wantStage: StageResolve,
		},
		{
			name: "mistyped total",
			source: `syntax = "proto3";
package userdata;
message User { int32 id = 1; string name = 2; string email = 3; int32 age = 4; string city = 5; }
message DataResponse { repeated User users = 1; string total = 2; string timestamp = 3; }`,
			wantStage: StageResolve,
		},
		{
			name: "user without city",
			source: `syntax = "proto3";
package userdata;
message User { int32 id = 1; string name = 2; string email = 3; int32 age = 4; }
message DataResponse { repeated User users = 1; int32 total = 2; string timestamp = 3; }`,
			wantStage: StageResolve,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(&StaticSource{Name: "test", Data: []byte(tt.source)}, tt.message)

			_, err := r.Resolve(context.Background())
			require.Error(t, err)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.wantStage, loadErr.Stage)
			assert.Equal(t, "test", loadErr.Origin)
		})
	}
}

func TestRegistry_AcceptsWiderIntegers(t *testing.T) {
	src := `syntax = "proto3";
package feed.v1;
message Snapshot {
  message Person { int64 id = 1; string name = 2; string email = 3; uint32 age = 4; string city = 5; }
  repeated Person users = 1;
  int64 total = 2;
  string timestamp = 3;
}`
	r := NewRegistry(&StaticSource{Name: "nested", Data: []byte(src)}, "feed.v1.Snapshot")

	h, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feed.v1.Snapshot.Person", string(h.User.FullName()))
}

func TestRegistry_ResolveHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	src := SourceFunc(func(ctx context.Context) ([]byte, error) {
		<-release
		return embeddedSchema, nil
	})
	r := NewRegistry(src, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_RecordsLoadSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(sr))

	r := NewRegistry(EmbeddedSource(), "", WithTracerProvider(tp))
	_, err := r.Resolve(context.Background())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "userdata.schema.load", spans[0].Name())
}

func TestHTTPSource_Load(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data.proto":
			assert.Equal(t, "userdata-test/1.0", r.Header.Get("User-Agent"))
			w.Write(embeddedSchema)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src := &HTTPSource{URL: server.URL + "/data.proto", UserAgent: "userdata-test/1.0"}
	r := NewRegistry(src, "")

	h, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/data.proto", h.Origin)

	missing := NewRegistry(&HTTPSource{URL: server.URL + "/missing.proto"}, "")
	_, err = missing.Resolve(context.Background())

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageFetch, loadErr.Stage)
	assert.Contains(t, err.Error(), "404")
}

func TestRegistry_LogFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)
	r := NewRegistry(EmbeddedSource(), "", WithLogger(logger))

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.Equal(t, 1, strings.Count(line, `"message":`), line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "Schema loaded", entry[zerolog.MessageFieldName])
	assert.Equal(t, DefaultMessage, entry[logging.FieldSchemaMessage])
	assert.Equal(t, "embedded:data.proto", entry[logging.FieldSchemaOrigin])
}
