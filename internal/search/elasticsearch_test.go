package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"example.com/backstage/services/orderbot/config"
	"example.com/backstage/services/orderbot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElastic answers like an Elasticsearch 7 node
func fakeElastic(t *testing.T, handler http.HandlerFunc) *ElasticClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewElasticClient(config.ElasticConfig{URL: server.URL, Prefix: "orderbot", Index: "orders"})
	require.NoError(t, err)
	return client
}

func TestIndexOrder(t *testing.T) {
	var path string
	var body map[string]interface{}
	client := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	err := client.IndexOrder(context.Background(), models.OrderDocument{
		ID:           "b7c0c1a4-5b1e-4a39-8d63-8a4b8e2a0f11",
		TrackingCode: "ABCD-261016-001",
		Status:       models.OrderStatusPending,
		Total:        decimal.NewFromInt(25),
		Products:     []string{"camiseta", "gorra"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/orderbot-orders/_doc/b7c0c1a4-5b1e-4a39-8d63-8a4b8e2a0f11", path)
	assert.Equal(t, "ABCD-261016-001", body["tracking_code"])
}

func TestIndexOrderError(t *testing.T) {
	client := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"}}`))
	})

	err := client.IndexOrder(context.Background(), models.OrderDocument{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestSearchOrders(t *testing.T) {
	var query string
	client := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/orderbot-orders/_search"))
		data, _ := io.ReadAll(r.Body)
		query = string(data)
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_source":{"tracking_code":"ABCD-261016-001"}},{"_id":"no-source"}]}}`))
	})

	docs, err := client.SearchOrders(context.Background(), "camiseta", 5)
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "ABCD-261016-001", docs[0]["tracking_code"])
	assert.Contains(t, query, `"query":"camiseta"`)
	assert.Contains(t, query, `"size":5`)
}
