// Package semantic is the sole owner of all Qdrant operations for the
// QA collection: collection lifecycle, upserts, threshold search, full
// scans, and payload-filtered deletes.
package semantic

import (
	"context"
	"fmt"

	"github.com/AskBaseAI/askbase/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// scrollPageSize is how many points a single Scroll RPC fetches during a
// full scan.
const scrollPageSize = 256

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store wraps the Qdrant gRPC clients for one named collection.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a Store over pre-built clients. Used in tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet. An existing collection is left untouched, so stored data
// always survives restarts.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert stores QA records by id, inserting or replacing.
func (s *Store) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				domain.PayloadQuestion: {Kind: &pb.Value_StringValue{StringValue: r.Question}},
				domain.PayloadAnswer:   {Kind: &pb.Value_StringValue{StringValue: r.Answer}},
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search. Results come back most-similar
// first; hits scoring below minScore are filtered out by Qdrant itself,
// so fewer than limit results (including zero) is normal. Tie order among
// equal scores is implementation-defined by Qdrant.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int, minScore float32) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = SearchResult{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Question: r.GetPayload()[domain.PayloadQuestion].GetStringValue(),
			Answer:   r.GetPayload()[domain.PayloadAnswer].GetStringValue(),
		}
	}
	return results, nil
}

// Scroll returns one page of stored records starting at cursor (empty for
// the first page) and the cursor for the next page (empty when exhausted).
// Enumeration order is unordered full-scan semantics.
func (s *Store) Scroll(ctx context.Context, cursor string, limit int) ([]StoredRecord, string, error) {
	n := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &n,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cursor}}
	}

	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("semantic: scroll: %w", err)
	}

	records := make([]StoredRecord, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		records[i] = StoredRecord{
			ID:       p.GetId().GetUuid(),
			Question: p.GetPayload()[domain.PayloadQuestion].GetStringValue(),
			Answer:   p.GetPayload()[domain.PayloadAnswer].GetStringValue(),
		}
	}
	return records, resp.GetNextPageOffset().GetUuid(), nil
}

// ScrollAll enumerates every stored record, page by page.
func (s *Store) ScrollAll(ctx context.Context) ([]StoredRecord, error) {
	var all []StoredRecord
	cursor := ""
	for {
		page, next, err := s.Scroll(ctx, cursor, scrollPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// DeleteByPayload removes every point whose payload matches ALL given
// fields exactly, and returns how many points that was. The count comes
// from an exact Count on the same filter right before the delete, so it
// is best-effort under concurrent writers.
func (s *Store) DeleteByPayload(ctx context.Context, fields map[string]string) (int, error) {
	filter := &pb.Filter{Must: make([]*pb.Condition, 0, len(fields))}
	for k, v := range fields {
		filter.Must = append(filter.Must, fieldMatch(k, v))
	}

	exact := true
	countResp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count by payload: %w", err)
	}
	matched := int(countResp.GetResult().GetCount())

	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: delete by payload: %w", err)
	}
	return matched, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
