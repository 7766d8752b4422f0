package crm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPClient(logger, server.URL, "test-key", "appBase", "tblOrders", "", server.Client())
}

func TestHTTPClient_LookupOrder_FallsBackToIsraeliVariant(t *testing.T) {
	var formulas []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		formulas = append(formulas, r.URL.Query().Get("filterByFormula"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if len(formulas) == 1 {
			w.Write([]byte(`{"records":[]}`))
			return
		}
		w.Write([]byte(`{"records":[{"id":"rec1","fields":{"Phone":"9720501234567"},"createdTime":"2026-08-01T10:00:00Z"}]}`))
	})

	records, err := client.LookupOrder(context.Background(), LookupByPhone, "972501234567")

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec1", records[0].ID)
	require.Len(t, formulas, 2)
	assert.Contains(t, formulas[0], "972501234567")
	assert.Contains(t, formulas[1], "9720501234567")
}

func TestHTTPClient_UpsertContact_PatchesExistingRecord(t *testing.T) {
	var methods []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"records":[{"id":"recExisting","fields":{}}]}`))
			return
		}
		w.Write([]byte(`{"id":"recExisting","fields":{}}`))
	})

	recordID, err := client.UpsertContact(context.Background(), ContactUpsert{
		Phone: "447700900123", Name: "Sam Ward", OrderExternalID: "UK250820FR02",
	})

	require.NoError(t, err)
	assert.Equal(t, "recExisting", recordID)
	require.Len(t, methods, 2)
	assert.Equal(t, "PATCH /appBase/tblOrders/recExisting", methods[1])
}

func TestHTTPClient_Rejection_ReturnsErrRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"type":"INVALID_VALUE"}}`))
	})

	_, err := client.searchRecords(context.Background(), formulaFor("Phone", "123"), 1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestHTTPClient_ListCompletedSince_FollowsPagination(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("offset") == "" {
			w.Write([]byte(`{"records":[{"id":"r1","fields":{"ID":"IL250819GB16","Completed Timestamp":"2026-08-30T09:00:00Z"}}],"offset":"page2"}`))
			return
		}
		w.Write([]byte(`{"records":[{"id":"r2","fields":{"ID":"UK250820FR02"},"createdTime":"2026-08-31T12:00:00Z"}]}`))
	})

	completed, err := client.ListCompletedSince(context.Background(), time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, completed, 2)
	assert.Equal(t, "IL250819GB16", completed[0].ExternalID)
	assert.Equal(t, time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC), completed[0].CompletedAt)
	assert.Equal(t, "UK250820FR02", completed[1].ExternalID)
}

func TestIsraeliPhoneVariant(t *testing.T) {
	assert.Equal(t, "9720501234567", israeliPhoneVariant("972501234567"))
	assert.Equal(t, "972501234567", israeliPhoneVariant("9720501234567"))
	assert.Equal(t, "", israeliPhoneVariant("447700900123"))
	assert.Equal(t, "", israeliPhoneVariant("972"))
}
