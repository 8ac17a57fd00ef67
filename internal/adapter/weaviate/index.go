package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docvault/features/search"
	"docvault/internal/worker"
)

var (
	// ErrIndexService covers transport and service-level failures of
	// the vector store.
	ErrIndexService = errors.New("index service error")

	// ErrDimensionMismatch is returned before any write when a vector
	// does not match the collection's configured size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// pointNamespace seeds deterministic object ids so the same element id
// always maps to the same point (upsert overwrites, never duplicates).
var pointNamespace = uuid.MustParse("5e2f7b9a-8f4d-4c7e-9b1a-3d6c2e8f0a41")

// Index stores one Weaviate class per workspace. Vectors are computed
// externally, so every class is created with vectorizer "none"; the
// vector size is enforced client-side because Weaviate does not check
// it at class-creation time.
type Index struct {
	client     *weaviate.Client
	vectorSize int
}

func NewIndex(client *weaviate.Client, vectorSize int) *Index {
	return &Index{client: client, vectorSize: vectorSize}
}

// ClassFor maps a workspace name to its Weaviate class. Workspace
// names are lowercase with hyphens; class names must start with an
// uppercase letter and hyphens are not allowed.
func ClassFor(workspace string) string {
	return "Ws_" + strings.ReplaceAll(workspace, "-", "_")
}

// PointID derives the stable object id for an element.
func PointID(workspace, elementID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(workspace+"/"+elementID)).String()
}

// EnsureCollection creates the workspace's class if it does not exist.
// It never alters an existing class.
func (s *Index) EnsureCollection(ctx context.Context, workspace string) error {
	className := ClassFor(workspace)

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       className,
		Description: "Embedded text elements of workspace " + workspace,
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "dot",
		},
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "filename", DataType: []string{"string"}},
			{Name: "elementId", DataType: []string{"string"}},
		},
	}

	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		// Two first-files racing on a new workspace can both reach the
		// create; the loser sees the class the winner made.
		exists, checkErr := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	return nil
}

// UpsertPoint writes one chunk through the batch objects API, which
// has replace-by-id semantics. The call returns only after the write
// is acknowledged, so a subsequent query against the same collection
// sees it.
func (s *Index) UpsertPoint(ctx context.Context, workspace string, chunk worker.Chunk) error {
	if len(chunk.Vector) != s.vectorSize {
		return fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, len(chunk.Vector), s.vectorSize)
	}

	obj := &models.Object{
		Class: ClassFor(workspace),
		ID:    strfmt.UUID(PointID(workspace, chunk.ElementID)),
		Properties: map[string]interface{}{
			"text":      chunk.Text,
			"filename":  chunk.Filename,
			"elementId": chunk.ElementID,
		},
		Vector: chunk.Vector,
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("%w: %s", ErrIndexService, item.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// QueryNearest returns the k nearest points by the collection's
// distance metric, best match first. Score is 1 - distance, so higher
// is better.
func (s *Index) QueryNearest(ctx context.Context, workspace string, vector []float32, limit int) ([]search.Result, error) {
	if len(vector) != s.vectorSize {
		return nil, fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, len(vector), s.vectorSize)
	}

	className := ClassFor(workspace)
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "filename"},
		{Name: "elementId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql: %v", ErrIndexService, res.Errors[0].Message)
	}

	var hits []search.Result
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return hits, nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return hits, nil
	}

	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}

		hit := search.Result{}
		if text, ok := props["text"].(string); ok {
			hit.Text = text
		}
		if filename, ok := props["filename"].(string); ok {
			hit.Filename = filename
		}
		if elementID, ok := props["elementId"].(string); ok {
			hit.ElementID = elementID
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				hit.Score = float32(1 - distance)
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// CountPoints returns the number of points in the workspace's class,
// or zero if the class does not exist yet.
func (s *Index) CountPoints(ctx context.Context, workspace string) (int, error) {
	className := ClassFor(workspace)

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	if !exists {
		return 0, nil
	}

	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}
	res, err := s.client.GraphQL().Aggregate().WithClassName(className).WithFields(meta).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("%w: graphql: %v", ErrIndexService, res.Errors[0].Message)
	}

	if agg, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := agg[className].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if m, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := m["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// DeleteCollection drops the workspace's class and every point in it.
// Deleting a class that does not exist is a no-op.
func (s *Index) DeleteCollection(ctx context.Context, workspace string) error {
	className := ClassFor(workspace)

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	if !exists {
		return nil
	}

	if err := s.client.Schema().ClassDeleter().WithClassName(className).Do(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexService, err)
	}
	return nil
}
