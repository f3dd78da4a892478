package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/pkg/types"
	"github.com/obsidianstack/deltacache/server/internal/rules"
	"github.com/obsidianstack/deltacache/server/internal/store"
)

// Receiver implements types.CacheServiceServer on top of the entry store.
type Receiver struct {
	store *store.Store
}

// New creates a Receiver that reads and writes st.
func New(st *store.Store) *Receiver {
	return &Receiver{store: st}
}

var _ types.CacheServiceServer = (*Receiver)(nil)

// Put validates and stores one entry.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) Put(ctx context.Context, req *types.PutRequest) (*types.PutResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	if len(req.Value) == 0 || !json.Valid(req.Value) {
		return nil, status.Error(codes.InvalidArgument, "value must be valid JSON")
	}

	e, err := r.store.Put(ctx, req.Key, req.Value, store.SourceGRPC)
	if err != nil {
		return nil, toStatus(err)
	}

	slog.Debug("receiver: entry stored", "key", req.Key, "size", e.Size())
	return &types.PutResponse{Ok: true, UpdatedAt: e.UpdatedAt}, nil
}

// Get reads one entry. An absent key is not an error.
func (r *Receiver) Get(ctx context.Context, req *types.GetRequest) (*types.GetResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	e, ok := r.store.Get(ctx, req.Key)
	if !ok {
		return &types.GetResponse{}, nil
	}
	return &types.GetResponse{Found: true, Value: e.Value, Source: e.Source, UpdatedAt: e.UpdatedAt}, nil
}

// Delete removes the listed keys in one batch.
func (r *Receiver) Delete(ctx context.Context, req *types.DeleteRequest) (*types.DeleteResponse, error) {
	if len(req.Keys) == 0 {
		return nil, status.Error(codes.InvalidArgument, "keys is required")
	}
	if err := r.store.DeleteMany(ctx, req.Keys); err != nil {
		return nil, toStatus(err)
	}
	return &types.DeleteResponse{Ok: true}, nil
}

// Purge runs the eviction rules now, plus the optional request condition.
func (r *Receiver) Purge(ctx context.Context, req *types.PurgeRequest) (*types.PurgeResponse, error) {
	var extra *rules.Condition
	if req.Condition != "" {
		c, err := rules.Parse(req.Condition)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		extra = &c
	}
	n, err := r.store.Purge(ctx, extra)
	if err != nil {
		return nil, toStatus(err)
	}
	return &types.PurgeResponse{Removed: n}, nil
}

func toStatus(err error) error {
	if errors.Is(err, cache.ErrClosed) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
