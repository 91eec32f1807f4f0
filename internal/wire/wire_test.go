package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := ClientRequest{Req: Request{Type: OpPut, TxnID: 7, Key: "k1", Value: []byte("v1")}}

	require.NoError(t, WriteMessage(&buf, req))

	var got ClientRequest
	require.NoError(t, ReadMessage(&buf, &got))
	assert.Equal(t, req, got)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	var got ClientRequest
	err := ReadMessage(&buf, &got)
	assert.Error(t, err)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req := Request{Type: OpCommit, TxnID: 3, TS: 42}
	data, err := Marshal(req)
	require.NoError(t, err)

	var got Request
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, req, got)
}
