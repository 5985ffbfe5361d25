package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

func testCommand() *domain.OutboxCommand {
	return domain.NewOutboxCommand("W1", domain.TypeShiftOpen,
		json.RawMessage(`{"shiftId":"S1"}`), "shift:S1:open:v1")
}

func TestSubmitSendsIdempotentRequest(t *testing.T) {
	var gotHeader string
	var gotBody commandRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/commands", r.URL.Path)
		gotHeader = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cmd := testCommand()
	res, err := NewHTTPSubmitter(srv.URL).Submit(context.Background(), cmd)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Conflict)

	assert.Equal(t, cmd.IdempotencyKey, gotHeader)
	assert.Equal(t, cmd.IdempotencyKey, gotBody.IdempotencyKey)
	assert.Equal(t, "W1", gotBody.WorkspaceID)
	assert.Equal(t, domain.TypeShiftOpen, gotBody.Type)
	assert.JSONEq(t, `{"shiftId":"S1"}`, string(gotBody.Payload))
}

func TestSubmitAcceptedWithState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":{"shiftId":"S1","version":3}}`))
	}))
	defer srv.Close()

	res, err := NewHTTPSubmitter(srv.URL).Submit(context.Background(), testCommand())
	require.NoError(t, err)
	assert.JSONEq(t, `{"shiftId":"S1","version":3}`, string(res.ServerState))
}

func TestSubmitConflictMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"serverVersion":9,"serverState":{"state":"OPEN"},"message":"shift already open"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPSubmitter(srv.URL).Submit(context.Background(), testCommand())
	require.NoError(t, err, "a conflict is an answer, not an error")
	require.NotNil(t, res.Conflict)
	require.NotNil(t, res.Conflict.ServerVersion)
	assert.Equal(t, int64(9), *res.Conflict.ServerVersion)
	assert.JSONEq(t, `{"state":"OPEN"}`, string(res.Conflict.ServerState))
	assert.Equal(t, "shift already open", res.Conflict.Message)
}

func TestSubmitClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("unknown register"))
	}))
	defer srv.Close()

	_, err := NewHTTPSubmitter(srv.URL).Submit(context.Background(), testCommand())

	var sve *domain.ServerValidationError
	require.ErrorAs(t, err, &sve)
	assert.Equal(t, http.StatusUnprocessableEntity, sve.Status)
	assert.Equal(t, "unknown register", sve.Detail)
	assert.False(t, domain.IsRetryable(err))
}

func TestSubmitServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSubmitter(srv.URL).Submit(context.Background(), testCommand())

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, domain.IsRetryable(err))
}

func TestSubmitNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused

	_, err := NewHTTPSubmitter(srv.URL).Submit(context.Background(), testCommand())
	assert.True(t, domain.IsRetryable(err))
}

func TestSubmitCancelledContextPassesThrough(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPSubmitter(srv.URL).Submit(ctx, testCommand())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsRetryable(err), "cancellation is not a transport failure")
}
