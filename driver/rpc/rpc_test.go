package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/sqlpush/driver/rpc"
)

const testKey = "service-role-key"

type recordedRequest struct {
	method        string
	path          string
	apiKey        string
	authorization string
	contentType   string
	sqlQuery      string
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func newTestServer(t *testing.T, status int, body string, rec *recorder) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		rec.mu.Lock()
		rec.requests = append(rec.requests, recordedRequest{
			method:        r.Method,
			path:          r.URL.Path,
			apiKey:        r.Header.Get("apikey"),
			authorization: r.Header.Get("Authorization"),
			contentType:   r.Header.Get("Content-Type"),
			sqlQuery:      payload["sql_query"],
		})
		rec.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestExecSendsStatement(t *testing.T) {
	t.Parallel()

	var rec recorder
	server := newTestServer(t, http.StatusNoContent, "", &rec)

	drv, err := rpc.NewDriver(rpc.DriverConfig{ProjectURL: server.URL + "/", ServiceRoleKey: testKey})
	require.NoError(t, err)

	require.NoError(t, drv.Exec(context.Background(), "CREATE TABLE a (id int)"))

	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, recordedRequest{
		method:        http.MethodPost,
		path:          "/rest/v1/rpc/exec_sql",
		apiKey:        testKey,
		authorization: "Bearer " + testKey,
		contentType:   "application/json",
		sqlQuery:      "CREATE TABLE a (id int)",
	}, requests[0])
}

func TestExecUsesCustomFunctionName(t *testing.T) {
	t.Parallel()

	var rec recorder
	server := newTestServer(t, http.StatusOK, "null", &rec)

	drv, err := rpc.NewDriver(rpc.DriverConfig{
		ProjectURL:     server.URL,
		ServiceRoleKey: testKey,
		FunctionName:   "run_sql",
	})
	require.NoError(t, err)

	require.NoError(t, drv.Exec(context.Background(), "SELECT 1"))
	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, "/rest/v1/rpc/run_sql", requests[0].path)
}

var execErrorTestTable = []struct { // nolint:gochecknoglobals
	name     string
	status   int
	body     string
	expected rpc.Error
}{
	/* e0 */ {
		name:     "test e0: should decode backend error payload",
		status:   http.StatusNotFound,
		body:     `{"code":"PGRST202","details":null,"hint":null,"message":"Could not find the function public.exec_sql(sql_query) in the schema cache"}`,
		expected: rpc.Error{StatusCode: 404, Code: "PGRST202", Message: "Could not find the function public.exec_sql(sql_query) in the schema cache"},
	},
	/* e1 */ {
		name:     "test e1: should decode database error payload",
		status:   http.StatusBadRequest,
		body:     `{"code":"42P07","message":"relation \"bookmarks\" already exists"}`,
		expected: rpc.Error{StatusCode: 400, Code: "42P07", Message: `relation "bookmarks" already exists`},
	},
	/* e2 */ {
		name:     "test e2: should fall back to raw body",
		status:   http.StatusBadGateway,
		body:     "upstream unavailable\n",
		expected: rpc.Error{StatusCode: 502, Message: "upstream unavailable"},
	},
	/* e3 */ {
		name:     "test e3: should fall back to status text on empty body",
		status:   http.StatusUnauthorized,
		body:     "",
		expected: rpc.Error{StatusCode: 401, Message: "Unauthorized"},
	},
}

func TestExecErrors(t *testing.T) {
	t.Parallel()

	for _, test := range execErrorTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			var rec recorder
			server := newTestServer(t, test.status, test.body, &rec)

			drv, err := rpc.NewDriver(rpc.DriverConfig{ProjectURL: server.URL, ServiceRoleKey: testKey})
			require.NoError(t, err)

			err = drv.Exec(context.Background(), "SELECT 1")
			require.Error(t, err)

			var rpcErr *rpc.Error
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, test.expected, *rpcErr)
		})
	}
}

func TestExecHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	drv, err := rpc.NewDriver(rpc.DriverConfig{ProjectURL: server.URL, ServiceRoleKey: testKey})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = drv.Exec(ctx, "SELECT pg_sleep(60)")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvisionHelperSendsHelperDefinition(t *testing.T) {
	t.Parallel()

	var rec recorder
	server := newTestServer(t, http.StatusNotFound, `{"message":"function not found"}`, &rec)

	drv, err := rpc.NewDriver(rpc.DriverConfig{ProjectURL: server.URL, ServiceRoleKey: testKey})
	require.NoError(t, err)

	err = drv.ProvisionHelper(context.Background())
	assert.Error(t, err)
	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, rpc.HelperFunctionSQL, requests[0].sqlQuery)
}

var newDriverTestTable = []struct { // nolint:gochecknoglobals
	name   string
	config rpc.DriverConfig
	err    error
}{
	{name: "test e0: should require project url", config: rpc.DriverConfig{ServiceRoleKey: testKey}, err: rpc.ErrProjectURLRequired},
	{name: "test e1: should require service role key", config: rpc.DriverConfig{ProjectURL: "https://abc.supabase.co"}, err: rpc.ErrServiceRoleKeyRequired},
	{name: "test e2: should reject malformed url", config: rpc.DriverConfig{ProjectURL: "abc.supabase.co", ServiceRoleKey: testKey}},
}

func TestNewDriverValidatesConfig(t *testing.T) {
	t.Parallel()

	for _, test := range newDriverTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			_, err := rpc.NewDriver(test.config)
			require.Error(t, err)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
			}
		})
	}
}
