package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/model"
)

func TestReadFrameSplitsOnLineFeedOnly(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("one\n\rtwo\r\nthree"))

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "one", string(f))

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "\rtwo\r", string(f), "carriage returns are data")

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "three", string(f))

	_, err = fr.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameLongerThanChunk(t *testing.T) {
	payload := strings.Repeat("a", 5*ChunkSize+17)
	fr := NewFrameReader(strings.NewReader(payload + "\n"))

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, string(f))
}

func TestReadFrameDropThreshold(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString(strings.Repeat("x", DropSize+500))
	stream.WriteString("\nnext\n")
	fr := NewFrameReader(&stream)

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, f, DropSize)

	// reading continues with the rest of the oversized input
	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 500), string(f))

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "next", string(f))
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"a":"b"}`)))
	assert.Equal(t, "{\"a\":\"b\"}\n\r", buf.String())
}

func TestRequestRoundTripThroughFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, req := range []Request{
		{Operation: model.OperationPut, Key: "k1", Value: "line1\nline2"},
		{Operation: model.OperationGet, Key: "k1"},
	} {
		payload, err := req.Encode()
		require.NoError(t, err)
		require.NoError(t, WriteFrame(&buf, payload))
	}

	fr := NewFrameReader(&buf)

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	req, err := DecodeRequest(f)
	require.NoError(t, err)
	assert.Equal(t, model.OperationPut, req.Operation)
	assert.Equal(t, "line1\nline2", req.Value)

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte('\r'), f[0])
	req, err = DecodeRequest(f)
	require.NoError(t, err)
	assert.Equal(t, model.OperationGet, req.Operation)
	assert.Equal(t, "", req.Value)

	// trailing carriage return of the last frame is left over
	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.True(t, IsBlank(f))
}

func TestDecodeRequestErrors(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	assert.Equal(t, errors.ErrCodeMalformedFrame, errors.GetCode(err))

	req, err := DecodeRequest([]byte(`{"operation":"SCAN","key":"k","value":""}`))
	assert.Equal(t, errors.ErrCodeMalformedFrame, errors.GetCode(err))
	require.NotNil(t, req)
	assert.Equal(t, "k", req.Key)
}

func TestResponseWireFormat(t *testing.T) {
	resp := Response{Status: model.StatusGetSuccess, Key: "k", Value: "v"}
	payload, err := resp.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"GET_SUCCESS","key":"k","value":"v"}`, string(payload))

	decoded, err := DecodeResponse(append([]byte("\r"), payload...))
	require.NoError(t, err)
	assert.Equal(t, resp, *decoded)
}

func TestEncodeKeepsHTMLCharactersLiteral(t *testing.T) {
	value := strings.Repeat("<&>", 40000)
	req := Request{Operation: model.OperationPut, Key: "k", Value: value}
	payload, err := req.Encode()
	require.NoError(t, err)
	assert.Less(t, len(payload), DropSize)
	assert.NotContains(t, string(payload), `\u003c`)
	assert.NotEqual(t, byte('\n'), payload[len(payload)-1])

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload))
	f, err := NewFrameReader(&buf).ReadFrame()
	require.NoError(t, err)
	decoded, err := DecodeRequest(f)
	require.NoError(t, err)
	assert.Equal(t, value, decoded.Value)

	resp := Response{Status: model.StatusGetSuccess, Key: "k", Value: "a<b>&c"}
	payload, err = resp.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"status":"GET_SUCCESS","key":"k","value":"a<b>&c"}`, string(payload))
}
