package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller's original id when it isn't itself a
// UUID, since Qdrant point ids must be a UUID or a positive integer.
const payloadIDField = "_point_id"

// QdrantConfig configures the Qdrant-backed Store.
type QdrantConfig struct {
	DSN        string
	Collection string
}

type qdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant connects to Qdrant's gRPC API (default port 6334) and returns a
// Store for cfg.Collection. Call EnsureCollection before first use.
func NewQdrant(cfg QdrantConfig) (Store, error) {
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("vectorstore: collection name is required")
	}
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid port in dsn: %w", err)
	}
	qcfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	return &qdrantStore{client: client, collection: cfg.Collection}, nil
}

func (q *qdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection: %w", err)
	}
	return nil
}

// pointUUID derives the UUID Qdrant requires as a point id, storing the
// caller's original id in the payload when it had to be remapped.
func pointUUID(id string) (uuidStr string, remapped bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func (q *qdrantStore) Upsert(ctx context.Context, points []Point) error {
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		uuidStr, remapped := pointUUID(p.ID)
		metadataAny := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			metadataAny[k] = v
		}
		if remapped {
			metadataAny[payloadIDField] = p.ID
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(metadataAny),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

func filterToQdrant(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, limit int, filter map[string]string) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	lim := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         filterToQdrant(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := make(map[string]string)
		id := uuidStr
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					id = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		results = append(results, Result{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return results, nil
}

func (q *qdrantStore) DeleteBy(ctx context.Context, filter map[string]string) error {
	f := filterToQdrant(filter)
	if f == nil {
		return fmt.Errorf("vectorstore: delete_by requires a non-empty filter")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: f}},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete_by: %w", err)
	}
	return nil
}

func (q *qdrantStore) Close() error {
	return q.client.Close()
}
