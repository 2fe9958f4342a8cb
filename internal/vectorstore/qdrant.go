package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Client wraps gRPC connections to Qdrant's collections and points
// services. It serves as the parallel keyed collection for entry
// embeddings when they are not stored inline.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// pointID maps an entry id onto a stable Qdrant point UUID.
func pointID(entryID string) *pb.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(entryID)).String()
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert inserts or updates the vector for one entry id.
func (c *Client) Upsert(ctx context.Context, collection, entryID string, vector []float32, payload map[string]string) error {
	payloadMap := make(map[string]*pb.Value, len(payload)+1)
	for k, v := range payload {
		payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	payloadMap["entry_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: entryID}}

	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      pointID(entryID),
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert point for %s: %w", entryID, err)
	}
	return nil
}

// Get retrieves the stored vector for one entry id, or nil when the
// point does not exist.
func (c *Client) Get(ctx context.Context, collection, entryID string) ([]float32, error) {
	resp, err := c.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            []*pb.PointId{pointID(entryID)},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("get point for %s: %w", entryID, err)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	vectors := resp.Result[0].GetVectors()
	if vectors == nil {
		return nil, nil
	}
	vec := vectors.GetVector()
	if vec == nil {
		return nil, nil
	}
	return vec.Data, nil
}

// Delete removes the vector for one entry id.
func (c *Client) Delete(ctx context.Context, collection, entryID string) error {
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(entryID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete point for %s: %w", entryID, err)
	}
	return nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
