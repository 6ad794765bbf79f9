package storerpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
)

// Document is the wire form of docstore.Document.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Fields     json.RawMessage `json:"fields"`
	Version    int64           `json:"version"`
}

type GetRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

type DocumentReply struct {
	Document *Document `json:"document"`
}

// WriteRequest carries Set and Update.
type WriteRequest struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Fields     json.RawMessage `json:"fields"`
}

type DeleteRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

type Empty struct{}

type Filter struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type QueryRequest struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"orderBy,omitempty"`
	Descending bool     `json:"descending,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type QueryReply struct {
	Documents []*Document `json:"documents"`
}

type SubscribeRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Snapshot is one change-feed event. A nil Document means the document does
// not exist.
type Snapshot struct {
	Document *Document `json:"document"`
}

// PresignOp names the object operation a URL is issued for.
type PresignOp string

const (
	PresignPut    PresignOp = "put"
	PresignGet    PresignOp = "get"
	PresignDelete PresignOp = "delete"
)

type PresignRequest struct {
	Op  PresignOp `json:"op"`
	Key string    `json:"key"`
}

type PresignReply struct {
	URL string `json:"url"`
}

// EncodeDocument converts a stored document to its wire form. nil stays nil.
func EncodeDocument(d *docstore.Document) (*Document, error) {
	if d == nil {
		return nil, nil
	}
	fields, err := EncodeFields(d.Fields)
	if err != nil {
		return nil, err
	}
	return &Document{Collection: d.Collection, ID: d.ID, Fields: fields, Version: d.Version}, nil
}

// DecodeDocument converts a wire document back. nil stays nil.
func DecodeDocument(d *Document) (*docstore.Document, error) {
	if d == nil {
		return nil, nil
	}
	fields, err := docstore.UnmarshalFields(d.Fields)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{Collection: d.Collection, ID: d.ID, Fields: fields, Version: d.Version}, nil
}

func EncodeFields(f docstore.Fields) (json.RawMessage, error) {
	if f == nil {
		f = docstore.Fields{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return b, nil
}

// EncodeQuery converts a docstore query for collection.
func EncodeQuery(collection string, q docstore.Query) (*QueryRequest, error) {
	req := &QueryRequest{Collection: collection, OrderBy: q.OrderBy, Descending: q.Descending, Limit: q.Limit}
	for _, f := range q.Filters {
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", f.Field, err)
		}
		req.Filters = append(req.Filters, Filter{Field: f.Field, Value: v})
	}
	return req, nil
}

// DecodeQuery converts a wire query back. Filter numbers stay json.Number.
func DecodeQuery(req *QueryRequest) (docstore.Query, error) {
	q := docstore.Query{OrderBy: req.OrderBy, Descending: req.Descending, Limit: req.Limit}
	for _, f := range req.Filters {
		var v any
		dec := json.NewDecoder(bytes.NewReader(f.Value))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return docstore.Query{}, fmt.Errorf("decode filter %s: %w", f.Field, err)
		}
		q.Filters = append(q.Filters, docstore.Filter{Field: f.Field, Value: v})
	}
	return q, nil
}
