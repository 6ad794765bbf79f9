// Package remote implements docstore.Store and blobstore.Presigner over the
// gRPC document store service. Every call carries the device access token.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/blobstore"
	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/dmitrijs2005/duodeck/internal/storerpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultReconnectDelay = time.Second

type Store struct {
	conn   *grpc.ClientConn
	client *storerpc.DocumentStoreClient
	log    logging.Logger

	reconnectDelay time.Duration
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ blobstore.Presigner = (*Store)(nil)
)

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func accessTokenInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
	}
}

func accessTokenStreamInterceptor(token string) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(withAccessToken(ctx, token), desc, cc, method, opts...)
	}
}

// Dial connects to the server at target. The connection is lazy; failures
// surface on the first call as common.ErrUnavailable.
func Dial(target, token string, log logging.Logger, extra ...grpc.DialOption) (*Store, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		storerpc.CallOptions(),
		grpc.WithChainUnaryInterceptor(accessTokenInterceptor(token)),
		grpc.WithChainStreamInterceptor(accessTokenStreamInterceptor(token)),
	}, extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	s := New(conn, log)
	s.conn = conn
	return s, nil
}

// New uses an existing connection; the caller keeps ownership of cc.
func New(cc grpc.ClientConnInterface, log logging.Logger) *Store {
	return &Store{
		client:         storerpc.NewDocumentStoreClient(cc),
		log:            logging.OrNop(log).With("module", "docstore/remote"),
		reconnectDelay: defaultReconnectDelay,
	}
}

// Close closes a connection opened by Dial.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	reply, err := s.client.Get(ctx, &storerpc.GetRequest{Collection: collection, ID: id})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, storerpc.FromStatus(err))
	}
	if reply.Document == nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, common.ErrorNotFound)
	}
	return storerpc.DecodeDocument(reply.Document)
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	raw, err := storerpc.EncodeFields(fields)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, &storerpc.WriteRequest{Collection: collection, ID: id, Fields: raw}); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, storerpc.FromStatus(err))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	raw, err := storerpc.EncodeFields(fields)
	if err != nil {
		return err
	}
	if err := s.client.Update(ctx, &storerpc.WriteRequest{Collection: collection, ID: id, Fields: raw}); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, storerpc.FromStatus(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.client.Delete(ctx, &storerpc.DeleteRequest{Collection: collection, ID: id}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, storerpc.FromStatus(err))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Document, error) {
	req, err := storerpc.EncodeQuery(collection, q)
	if err != nil {
		return nil, err
	}
	reply, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, storerpc.FromStatus(err))
	}

	out := make([]*docstore.Document, 0, len(reply.Documents))
	for _, d := range reply.Documents {
		doc, err := storerpc.DecodeDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Subscribe waits for the first snapshot so that an unreachable server or a
// rejected token is reported here. Afterwards an interrupted feed is reopened
// in the background; the reopened feed starts with the current state again.
func (s *Store) Subscribe(ctx context.Context, collection, id string, fn func(*docstore.Document)) (func(), error) {
	sctx, cancel := context.WithCancel(ctx)
	req := &storerpc.SubscribeRequest{Collection: collection, ID: id}

	stream, first, err := s.open(sctx, req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s/%s: %w", collection, id, err)
	}

	go s.follow(sctx, req, stream, first, fn)
	return cancel, nil
}

func (s *Store) open(ctx context.Context, req *storerpc.SubscribeRequest) (grpc.ServerStreamingClient[storerpc.Snapshot], *docstore.Document, error) {
	stream, err := s.client.Subscribe(ctx, req)
	if err != nil {
		return nil, nil, storerpc.FromStatus(err)
	}
	snap, err := stream.Recv()
	if err != nil {
		return nil, nil, storerpc.FromStatus(err)
	}
	doc, err := storerpc.DecodeDocument(snap.Document)
	if err != nil {
		return nil, nil, err
	}
	return stream, doc, nil
}

func (s *Store) follow(ctx context.Context, req *storerpc.SubscribeRequest, stream grpc.ServerStreamingClient[storerpc.Snapshot], first *docstore.Document, fn func(*docstore.Document)) {
	deliver := func(d *docstore.Document) bool {
		if ctx.Err() != nil {
			return false
		}
		fn(d)
		return true
	}

	for {
		if !deliver(first) {
			return
		}
		err := s.receive(stream, deliver)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn(ctx, "change feed interrupted, reconnecting", "collection", req.Collection, "id", req.ID, "error", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.reconnectDelay):
			}
			stream, first, err = s.open(ctx, req)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, common.ErrUnauthorized) {
				s.log.Error(ctx, "change feed rejected", "collection", req.Collection, "id", req.ID)
			}
		}
	}
}

func (s *Store) receive(stream grpc.ServerStreamingClient[storerpc.Snapshot], deliver func(*docstore.Document) bool) error {
	for {
		snap, err := stream.Recv()
		if err != nil {
			return storerpc.FromStatus(err)
		}
		doc, err := storerpc.DecodeDocument(snap.Document)
		if err != nil {
			return err
		}
		if !deliver(doc) {
			return nil
		}
	}
}

func (s *Store) presign(ctx context.Context, op storerpc.PresignOp, key string) (string, error) {
	reply, err := s.client.Presign(ctx, &storerpc.PresignRequest{Op: op, Key: key})
	if err != nil {
		return "", storerpc.FromStatus(err)
	}
	return reply.URL, nil
}

func (s *Store) PresignPut(ctx context.Context, key string) (string, error) {
	return s.presign(ctx, storerpc.PresignPut, key)
}

func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	return s.presign(ctx, storerpc.PresignGet, key)
}

func (s *Store) PresignDelete(ctx context.Context, key string) (string, error) {
	return s.presign(ctx, storerpc.PresignDelete, key)
}
