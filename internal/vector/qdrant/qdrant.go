// Package qdrant implements vector.Searcher against a remote Qdrant
// collection, for deployments whose index must outlive the process.
package qdrant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pastense/pastense/internal/vector"
)

// Index is a Qdrant-backed Searcher. Points are keyed by a UUID derived from
// the URL, so re-ingesting a page overwrites its point in place and staleness
// filtering is Qdrant's problem rather than ours.
type Index struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// New connects to a Qdrant instance.
func New(ctx context.Context, host string, port int, collection string) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Index{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: collection,
	}, nil
}

func (x *Index) Upsert(ctx context.Context, url string, vec []float32) error {
	point := &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: urlUUID(url)}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
		Payload: map[string]*pb.Value{
			"url": {Kind: &pb.Value_StringValue{StringValue: url}},
		},
	}

	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", url, err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vec []float32, k int) ([]vector.Candidate, error) {
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	candidates := make([]vector.Candidate, 0, len(resp.Result))
	for _, pt := range resp.Result {
		url := ""
		if v, ok := pt.Payload["url"]; ok {
			url = v.GetStringValue()
		}
		if url == "" {
			continue
		}
		// Qdrant scores are similarities (higher is better); flip to a
		// distance so both backends rank ascending.
		candidates = append(candidates, vector.Candidate{URL: url, Distance: -pt.Score})
	}
	return candidates, nil
}

// scrollPage bounds how many points one Scroll request returns.
const scrollPage = 256

// IndexedURLs pages through the collection and collects the url payload of
// every point, so the pipeline can reconcile a remote index against the
// metadata store the same way it does the in-process one.
func (x *Index) IndexedURLs(ctx context.Context) (map[string]struct{}, error) {
	limit := uint32(scrollPage)
	urls := make(map[string]struct{})
	var offset *pb.PointId
	for {
		resp, err := x.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: x.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll: %w", err)
		}
		for _, pt := range resp.Result {
			if v, ok := pt.Payload["url"]; ok {
				if url := v.GetStringValue(); url != "" {
					urls[url] = struct{}{}
				}
			}
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return urls, nil
		}
		offset = resp.NextPageOffset
	}
}

func (x *Index) Close() error {
	return x.conn.Close()
}

// urlUUID derives a stable UUID for a URL from its SHA-256 hash.
func urlUUID(url string) string {
	sum := sha256.Sum256([]byte(url))
	h := hex.EncodeToString(sum[:16])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

var (
	_ vector.Searcher  = (*Index)(nil)
	_ vector.URLLister = (*Index)(nil)
)
