package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticConfig configures the event archive.
type ElasticConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addresses   []string `yaml:"addresses" validate:"required_if=Enabled true"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	IndexPrefix string   `yaml:"index_prefix"`
}

// ElasticSink archives events into a date-rolled index <prefix>-YYYY.MM.DD.
type ElasticSink struct {
	es     *elasticsearch.Client
	prefix string
	logger *slog.Logger
}

// NewElasticSink connects to Elasticsearch and checks the cluster answers.
func NewElasticSink(cfg ElasticConfig, logger *slog.Logger) (*ElasticSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "overwatch-events"
	}
	return &ElasticSink{es: es, prefix: prefix, logger: logger}, nil
}

// Index stores one event.
func (s *ElasticSink) Index(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      fmt.Sprintf("%s-%s", s.prefix, ev.Time.UTC().Format("2006.01.02")),
		DocumentID: ev.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("indexing event: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.String())
	}
	return nil
}

// Run indexes events until the channel closes or ctx ends. Failures are
// logged and the event is dropped.
func (s *ElasticSink) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.Index(ctx, ev); err != nil {
				s.logger.Error("archiving event", "id", ev.ID, "error", err)
				continue
			}
			s.logger.Debug("event archived", "id", ev.ID, "topic", ev.Topic)
		}
	}
}
