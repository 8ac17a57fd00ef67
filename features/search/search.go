package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyQuery = errors.New("empty query")

const defaultLimit = 10

// Result is one nearest-neighbor match, best first. Score is higher
// for better matches.
type Result struct {
	ElementID string  `json:"element_id"`
	Text      string  `json:"text"`
	Filename  string  `json:"filename"`
	Score     float32 `json:"score"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	QueryNearest(ctx context.Context, workspace string, vector []float32, limit int) ([]Result, error)
}

type Service struct {
	embedder Embedder
	index    Index
}

func NewService(embedder Embedder, index Index) *Service {
	return &Service{embedder: embedder, index: index}
}

// Search embeds the query and returns the nearest points from the
// workspace's collection.
func (s *Service) Search(ctx context.Context, workspace, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return s.index.QueryNearest(ctx, workspace, vector, limit)
}
