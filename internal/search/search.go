// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package search loads transformed documents into Elasticsearch,
// creating each binding's index from its on-disk mapping file on first
// use and upserting documents through a bulk indexer afterward.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/rezyapkin/filmetl/internal/config"
	"github.com/rezyapkin/filmetl/internal/logging"
)

// Loader owns the Elasticsearch client and the bulk indexers it has
// lazily created, one per index.
type Loader struct {
	client   *elasticsearch.Client
	indexers map[string]esutil.BulkIndexer
}

// Connect builds a Loader against cfg.
func Connect(cfg config.ElasticConfig) (*Loader, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Loader{client: client, indexers: map[string]esutil.BulkIndexer{}}, nil
}

// EnsureIndex creates index from the mapping document at mappingFile if
// it does not already exist. A missing mapping file is not an error:
// the index is then left to Elasticsearch's dynamic mapping.
func (l *Loader) EnsureIndex(ctx context.Context, index, mappingFile string) error {
	existsResp, err := l.client.Indices.Exists([]string{index}, l.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s exists: %w", index, err)
	}
	defer existsResp.Body.Close()
	if existsResp.StatusCode == 200 {
		return nil
	}

	var body *bytes.Reader
	if mappingFile != "" {
		raw, err := os.ReadFile(mappingFile)
		if err != nil {
			if os.IsNotExist(err) {
				logging.Warn().Str("elastic_index", index).Str("mapping_file", mappingFile).
					Msg("mapping file not found, creating index with dynamic mapping")
			} else {
				return fmt.Errorf("read mapping file %s: %w", mappingFile, err)
			}
		} else {
			body = bytes.NewReader(raw)
		}
	}

	req := esapi.IndicesCreateRequest{Index: index}
	if body != nil {
		req.Body = body
	}
	resp, err := req.Do(ctx, l.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("create index %s: %s", index, resp.String())
	}

	logging.Info().Str("elastic_index", index).Msg("index created")
	return nil
}

// indexerFor lazily creates the bulk indexer for index.
func (l *Loader) indexerFor(index string) (esutil.BulkIndexer, error) {
	if bi, ok := l.indexers[index]; ok {
		return bi, nil
	}
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:  index,
		Client: l.client,
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer for %s: %w", index, err)
	}
	l.indexers[index] = bi
	return bi, nil
}

// Upsert indexes docs (each must marshal with an "_id" field) into
// index through the bulk indexer, returning once every item's callback
// has fired.
func (l *Loader) Upsert(ctx context.Context, index string, docs []any) error {
	bi, err := l.indexerFor(index)
	if err != nil {
		return err
	}

	var failures []error
	for _, doc := range docs {
		id, body, err := marshalDoc(doc)
		if err != nil {
			return fmt.Errorf("marshal document for index %s: %w", index, err)
		}

		item := esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: id,
			Body:       bytes.NewReader(body),
			OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					failures = append(failures, err)
					return
				}
				failures = append(failures, fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason))
			},
		}
		if err := bi.Add(ctx, item); err != nil {
			return fmt.Errorf("queue document for index %s: %w", index, err)
		}
	}

	// A closed indexer takes no new items; the next call creates a fresh one.
	delete(l.indexers, index)
	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("flush bulk indexer for %s: %w", index, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("bulk upsert into %s: %d document(s) failed, first error: %w", index, len(failures), failures[0])
	}
	return nil
}

func marshalDoc(doc any) (id string, body []byte, err error) {
	body, err = json.Marshal(doc)
	if err != nil {
		return "", nil, err
	}
	var withID struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(body, &withID); err != nil {
		return "", nil, err
	}
	if withID.ID == "" {
		return "", nil, fmt.Errorf("document missing _id field")
	}
	return withID.ID, body, nil
}

// Close releases resources held by every indexer this Loader still holds.
func (l *Loader) Close(ctx context.Context) error {
	for index, bi := range l.indexers {
		if err := bi.Close(ctx); err != nil {
			return fmt.Errorf("close bulk indexer for %s: %w", index, err)
		}
	}
	return nil
}
