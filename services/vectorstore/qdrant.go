// Package vectorstore provides the VectorStore implementations: a Qdrant
// gRPC adapter for production and an in-process store for tests and
// single-node development.
package vectorstore

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/ragforge/services"
)

// QdrantConfig holds the connection settings for the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore implements VectorStore over Qdrant's gRPC API. One store
// serves every per-bot collection.
type QdrantStore struct {
	cfg         QdrantConfig
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 6334
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", addr, err)
	}

	return &QdrantStore{
		cfg:         cfg,
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

func (s *QdrantStore) withAuth(ctx context.Context) context.Context {
	if s.cfg.APIKey != "" {
		return metadata.AppendToOutgoingContext(ctx, "api-key", s.cfg.APIKey)
	}
	return ctx
}

func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	resp, err := s.collections.CollectionExists(s.withAuth(ctx), &pb.CollectionExistsRequest{
		CollectionName: collection,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	return resp.GetResult().GetExists(), nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := s.collections.Create(s.withAuth(ctx), &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := s.collections.Delete(s.withAuth(ctx), &pb.DeleteCollection{
		CollectionName: collection,
	})
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []services.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: convertToQdrantPayload(p.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(s.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: collection,
		Points:         pbPoints,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float32) ([]services.SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}

	searchReq := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		ScoreThreshold: scoreThreshold,
	}

	resp, err := s.points.Search(s.withAuth(ctx), searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed in collection %s: %w", collection, err)
	}

	hits := make([]services.SearchHit, 0, len(resp.Result))
	for _, point := range resp.Result {
		hit := services.SearchHit{Score: point.Score}

		if point.Id != nil {
			switch id := point.Id.PointIdOptions.(type) {
			case *pb.PointId_Num:
				hit.ID = fmt.Sprintf("%d", id.Num)
			case *pb.PointId_Uuid:
				hit.ID = id.Uuid
			}
		}
		if point.Payload != nil {
			hit.Payload = convertPayloadToMap(point.Payload)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *QdrantStore) CollectionInfo(ctx context.Context, collection string) (*services.CollectionInfo, error) {
	resp, err := s.collections.Get(s.withAuth(ctx), &pb.GetCollectionInfoRequest{
		CollectionName: collection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info for %s: %w", collection, err)
	}

	info := &services.CollectionInfo{
		PointsCount: int64(resp.GetResult().GetPointsCount()),
	}
	if params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		info.VectorSize = int(params.GetSize())
	}
	return info, nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// convertToQdrantPayload converts a Go map to Qdrant payload values.
// Unsupported value types are dropped.
func convertToQdrantPayload(payload map[string]interface{}) map[string]*pb.Value {
	if len(payload) == 0 {
		return nil
	}
	result := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		if value := toQdrantValue(v); value != nil {
			result[k] = value
		}
	}
	return result
}

func toQdrantValue(v interface{}) *pb.Value {
	switch val := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	default:
		return nil
	}
}

// convertPayloadToMap converts Qdrant payload values back to a Go map.
func convertPayloadToMap(payload map[string]*pb.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}
	result := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		result[k] = convertQdrantValue(v)
	}
	return result
}

func convertQdrantValue(v *pb.Value) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *pb.Value_NullValue:
		return nil
	case *pb.Value_DoubleValue:
		return val.DoubleValue
	case *pb.Value_IntegerValue:
		return val.IntegerValue
	case *pb.Value_StringValue:
		return val.StringValue
	case *pb.Value_BoolValue:
		return val.BoolValue
	case *pb.Value_ListValue:
		if val.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertQdrantValue(item)
		}
		return list
	case *pb.Value_StructValue:
		if val.StructValue == nil {
			return nil
		}
		return convertPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}
