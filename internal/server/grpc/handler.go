package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/storerpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fail logs unexpected store errors and converts err for the wire.
func (s *GRPCServer) fail(ctx context.Context, op string, err error) error {
	out := storerpc.ToStatus(err)
	if status.Code(out) == codes.Internal || status.Code(out) == codes.Unavailable {
		s.logger.Error(ctx, "store call failed", "op", op, "error", err)
	}
	return out
}

func validateRef(collection, id string) error {
	if collection == "" || id == "" {
		return status.Error(codes.InvalidArgument, "collection and id are required")
	}
	return nil
}

func decodeFields(raw []byte) (docstore.Fields, error) {
	if len(raw) == 0 {
		return docstore.Fields{}, nil
	}
	fields, err := docstore.UnmarshalFields(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return fields, nil
}

func (s *GRPCServer) Get(ctx context.Context, req *storerpc.GetRequest) (*storerpc.DocumentReply, error) {
	if err := validateRef(req.Collection, req.ID); err != nil {
		return nil, err
	}

	doc, err := s.store.Get(ctx, req.Collection, req.ID)
	if err != nil {
		return nil, s.fail(ctx, "get", err)
	}

	out, err := storerpc.EncodeDocument(doc)
	if err != nil {
		return nil, s.fail(ctx, "get", err)
	}
	return &storerpc.DocumentReply{Document: out}, nil
}

func (s *GRPCServer) Set(ctx context.Context, req *storerpc.WriteRequest) (*storerpc.Empty, error) {
	if err := validateRef(req.Collection, req.ID); err != nil {
		return nil, err
	}
	fields, err := decodeFields(req.Fields)
	if err != nil {
		return nil, err
	}

	if err := s.store.Set(ctx, req.Collection, req.ID, fields); err != nil {
		return nil, s.fail(ctx, "set", err)
	}
	return &storerpc.Empty{}, nil
}

func (s *GRPCServer) Update(ctx context.Context, req *storerpc.WriteRequest) (*storerpc.Empty, error) {
	if err := validateRef(req.Collection, req.ID); err != nil {
		return nil, err
	}
	fields, err := decodeFields(req.Fields)
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, req.Collection, req.ID, fields); err != nil {
		return nil, s.fail(ctx, "update", err)
	}
	return &storerpc.Empty{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *storerpc.DeleteRequest) (*storerpc.Empty, error) {
	if err := validateRef(req.Collection, req.ID); err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, req.Collection, req.ID); err != nil {
		return nil, s.fail(ctx, "delete", err)
	}
	return &storerpc.Empty{}, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *storerpc.QueryRequest) (*storerpc.QueryReply, error) {
	if req.Collection == "" {
		return nil, status.Error(codes.InvalidArgument, "collection is required")
	}
	q, err := storerpc.DecodeQuery(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	docs, err := s.store.Query(ctx, req.Collection, q)
	if err != nil {
		return nil, s.fail(ctx, "query", err)
	}

	reply := &storerpc.QueryReply{Documents: make([]*storerpc.Document, 0, len(docs))}
	for _, d := range docs {
		out, err := storerpc.EncodeDocument(d)
		if err != nil {
			return nil, s.fail(ctx, "query", err)
		}
		reply.Documents = append(reply.Documents, out)
	}
	return reply, nil
}

func (s *GRPCServer) Presign(ctx context.Context, req *storerpc.PresignRequest) (*storerpc.PresignReply, error) {
	if s.presigner == nil {
		return nil, status.Error(codes.Unimplemented, "object storage is not configured")
	}
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	var (
		url string
		err error
	)
	switch req.Op {
	case storerpc.PresignPut:
		url, err = s.presigner.PresignPut(ctx, req.Key)
	case storerpc.PresignGet:
		url, err = s.presigner.PresignGet(ctx, req.Key)
	case storerpc.PresignDelete:
		url, err = s.presigner.PresignDelete(ctx, req.Key)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown presign op %q", req.Op)
	}
	if err != nil {
		return nil, s.fail(ctx, "presign", err)
	}
	return &storerpc.PresignReply{URL: url}, nil
}

// Subscribe streams snapshots of one document until the client goes away.
func (s *GRPCServer) Subscribe(req *storerpc.SubscribeRequest, stream grpc.ServerStreamingServer[storerpc.Snapshot]) error {
	ctx := stream.Context()
	if err := validateRef(req.Collection, req.ID); err != nil {
		return err
	}

	updates := make(chan *docstore.Document)
	unsubscribe, err := s.store.Subscribe(ctx, req.Collection, req.ID, func(d *docstore.Document) {
		select {
		case updates <- d:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return s.fail(ctx, "subscribe", err)
	}
	defer unsubscribe()

	s.metrics.SubscriptionOpened()
	defer s.metrics.SubscriptionClosed()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return s.fail(ctx, "subscribe", ctx.Err())
		case d := <-updates:
			out, err := storerpc.EncodeDocument(d)
			if err != nil {
				return s.fail(ctx, "subscribe", err)
			}
			if err := stream.Send(&storerpc.Snapshot{Document: out}); err != nil {
				return err
			}
		}
	}
}
