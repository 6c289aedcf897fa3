package search

import (
	"bytes"
	"context"
	"encoding/json"
	"example.com/backstage/services/orderbot/config"
	"example.com/backstage/services/orderbot/internal/models"
	"io"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient indexes and searches orders in Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexName returns the orders index name
func (c *ElasticClient) IndexName() string {
	return config.FormatIndex(c.config, c.config.Index)
}

// IndexOrder indexes an order document under its id
func (c *ElasticClient) IndexOrder(ctx context.Context, doc models.OrderDocument) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order document")
	}

	req := esapi.IndexRequest{
		Index:      c.IndexName(),
		DocumentID: doc.ID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(res.Body, "index")
	}

	log.Debug().Str("tracking_code", doc.TrackingCode).Msg("Order indexed")
	return nil
}

// SearchQuery builds a full-text query over the order document fields
func SearchQuery(text string, limit int) map[string]interface{} {
	return map[string]interface{}{
		"size": limit,
		"sort": []interface{}{
			map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"tracking_code^3", "client_name^2", "supplier_name^2", "products", "notes", "status"},
				"type":   "best_fields",
			},
		},
	}
}

// SearchOrders returns the sources of the orders matching text
func (c *ElasticClient) SearchOrders(ctx context.Context, text string, limit int) ([]map[string]interface{}, error) {
	queryJSON, err := json.Marshal(SearchQuery(text, limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.IndexName()},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res.Body, "search")
	}

	return decodeHits(res.Body)
}

func decodeHits(body io.Reader) ([]map[string]interface{}, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		if hit.Source != nil {
			docs = append(docs, hit.Source)
		}
	}
	return docs, nil
}

func responseError(body io.Reader, op string) error {
	var e map[string]interface{}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return errors.Wrap(err, "failed to parse Elasticsearch error response")
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
