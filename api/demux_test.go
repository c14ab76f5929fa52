package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemux_AllSuccess(t *testing.T) {
	out := demux([]byte(`[{"id":1,"result":{"b":2}},{"id":0,"result":{"a":1}}]`), nil, 2, nil)

	require.Len(t, out, 2)
	assert.JSONEq(t, `{"a":1}`, string(out[0].Result))
	assert.JSONEq(t, `{"b":2}`, string(out[1].Result))
	assert.NoError(t, out[0].Err)
	assert.NoError(t, out[1].Err)
}

func TestDemux_PartialError(t *testing.T) {
	out := demux([]byte(`[
		{"id":0,"result":{"a":1}},
		{"id":1,"error":{"code":404,"message":"no such video","type":"not_found"}}
	]`), nil, 2, nil)

	assert.NoError(t, out[0].Err)
	var apiErr *Error
	require.True(t, errors.As(out[1].Err, &apiErr))
	assert.Equal(t, 404, apiErr.Code)
	assert.Equal(t, "not_found", apiErr.Type)
	assert.False(t, IsTransportError(out[1].Err))
}

func TestDemux_GlobalError(t *testing.T) {
	out := demux([]byte(`{"error":{"code":403,"message":"forbidden","type":"access_forbidden"}}`), nil, 3, nil)

	for _, o := range out {
		var apiErr *Error
		require.True(t, errors.As(o.Err, &apiErr))
		assert.Equal(t, 403, apiErr.Code)
	}
	assert.Same(t, out[0].Err, out[2].Err)
}

func TestDemux_Unparsable(t *testing.T) {
	out := demux([]byte(`<html>gateway timeout</html>`), errors.New("request failed: status 504"), 2, nil)
	for _, o := range out {
		assert.True(t, IsTransportError(o.Err))
		assert.Contains(t, o.Err.Error(), "504")
	}

	out = demux([]byte(`{"unexpected":true}`), nil, 1, nil)
	assert.True(t, IsTransportError(out[0].Err))
}

func TestDemux_ProtocolErrors(t *testing.T) {
	out := demux([]byte(`[
		{"id":0,"result":"first"},
		{"id":0,"result":"duplicate"},
		{"id":7,"result":"unknown"},
		{"result":"no id"},
		{"id":1}
	]`), nil, 3, nil)

	require.Len(t, out, 3)
	assert.Equal(t, json.RawMessage(`"first"`), out[0].Result)
	assert.True(t, IsTransportError(out[1].Err), "entry with neither result nor error")
	assert.True(t, IsTransportError(out[2].Err), "call missing from the response")
}

func TestDemux_NullResultIsResult(t *testing.T) {
	out := demux([]byte(`[{"id":0,"result":null}]`), nil, 1, nil)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, json.RawMessage("null"), out[0].Result)
}

func TestParseError_String(t *testing.T) {
	e := parseError(json.RawMessage(`"invalid_token"`))
	assert.Equal(t, "invalid_token", e.Type)
	assert.Equal(t, 400, e.Code)

	assert.True(t, IsTransportError(parseError(json.RawMessage(`42`))))
}

func TestSingleOutcome(t *testing.T) {
	o := singleOutcome([]byte(`{"id":"x1"}`), nil)
	assert.NoError(t, o.Err)
	assert.JSONEq(t, `{"id":"x1"}`, string(o.Result))

	o = singleOutcome([]byte(`{"error":{"code":400,"message":"bad","type":"invalid_parameter"}}`), errors.New("status 400"))
	assert.Equal(t, "invalid_parameter", o.Err.(*Error).Type)

	o = singleOutcome([]byte(`[1,2]`), nil)
	assert.NoError(t, o.Err)

	o = singleOutcome([]byte(`oops`), nil)
	assert.True(t, IsTransportError(o.Err))

	o = singleOutcome([]byte(`{"ok":true}`), errors.New("status 502"))
	assert.True(t, IsTransportError(o.Err))
}
