package storerpc

import (
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_KeepsFilterTypes(t *testing.T) {
	q := docstore.Query{OrderBy: "createdAt", Descending: true, Limit: 3}.
		Where("pairId", "a_b").
		Where("isRead", false).
		Where("drawnAt", int64(1700000000123))

	req, err := EncodeQuery("cards", q)
	require.NoError(t, err)

	// through the codec, as on the wire
	b, err := Codec{}.Marshal(req)
	require.NoError(t, err)
	var wire QueryRequest
	require.NoError(t, Codec{}.Unmarshal(b, &wire))
	assert.Equal(t, "cards", wire.Collection)

	got, err := DecodeQuery(&wire)
	require.NoError(t, err)
	assert.Equal(t, "createdAt", got.OrderBy)
	assert.True(t, got.Descending)
	assert.Equal(t, 3, got.Limit)
	require.Len(t, got.Filters, 3)
	assert.Equal(t, "a_b", got.Filters[0].Value)
	assert.Equal(t, false, got.Filters[1].Value)
	assert.Equal(t, json.Number("1700000000123"), got.Filters[2].Value)

	assert.True(t, docstore.Matches(docstore.Fields{"pairId": "a_b", "isRead": false, "drawnAt": json.Number("1700000000123")}, got.Filters))
}

func TestDecodeQuery_BadFilter(t *testing.T) {
	_, err := DecodeQuery(&QueryRequest{Collection: "c", Filters: []Filter{{Field: "x", Value: json.RawMessage(`{`)}}})
	assert.Error(t, err)
}

func TestDocument_NilStaysNil(t *testing.T) {
	w, err := EncodeDocument(nil)
	require.NoError(t, err)
	assert.Nil(t, w)

	d, err := DecodeDocument(nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDocument_RoundTrip(t *testing.T) {
	in := &docstore.Document{Collection: "identities", ID: "me", Version: 42, Fields: docstore.Fields{
		"publicKey": "pk", "pairId": nil, "createdAt": json.Number("1700000000000"),
	}}
	w, err := EncodeDocument(in)
	require.NoError(t, err)

	out, err := DecodeDocument(w)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_Name(t *testing.T) {
	assert.Equal(t, "json", Codec{}.Name())
	assert.Error(t, Codec{}.Unmarshal([]byte("nope"), &Empty{}))
}
