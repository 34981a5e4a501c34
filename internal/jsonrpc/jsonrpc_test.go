package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDRoundTrip(t *testing.T) {
	cases := map[string]struct {
		in   string
		want any
	}{
		"string":         {`"abc"`, "abc"},
		"integer":        {`42`, int64(42)},
		"integral float": {`7.0`, int64(7)},
		"float":          {`1.5`, 1.5},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var id RequestID
			require.NoError(t, json.Unmarshal([]byte(tc.in), &id))
			assert.Equal(t, tc.want, id.Value())

			out, err := json.Marshal(&id)
			require.NoError(t, err)
			var back RequestID
			require.NoError(t, json.Unmarshal(out, &back))
			assert.Equal(t, id, back)
		})
	}
}

func TestNewRequestIDMatchesDecodedID(t *testing.T) {
	var decoded RequestID
	require.NoError(t, json.Unmarshal([]byte(`3`), &decoded))
	assert.Equal(t, &decoded, NewRequestID(3))
	assert.Equal(t, &decoded, NewRequestID(uint8(3)))
	assert.Equal(t, &decoded, NewRequestID(3.0))
	assert.Equal(t, "3", decoded.String())

	assert.True(t, NewRequestID(struct{}{}).IsNil())
}

func TestNullRequestID(t *testing.T) {
	var id *RequestID
	b, err := json.Marshal(Response{JSONRPCVersion: ProtocolVersion, Error: NewError(ErrorCodeParseError, "bad"), ID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32700,"message":"bad"},"id":null}`, string(b))
	assert.Equal(t, "", id.String())
	assert.Nil(t, id.Value())

	var decoded RequestID
	require.NoError(t, json.Unmarshal([]byte(`null`), &decoded))
	assert.True(t, decoded.IsNil())
}

func TestRequestIDRejectsObjects(t *testing.T) {
	var id RequestID
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &id))
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestAnyMessageKind(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{}}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{"result", `{"jsonrpc":"2.0","id":"x","result":{}}`, KindResponse},
		{"error", `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"nope"}}`, KindResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			require.NoError(t, json.Unmarshal([]byte(tc.in), &m))
			assert.Equal(t, tc.want, m.Kind())
			assert.Equal(t, tc.name == "notification" || tc.name == "request", m.AsRequest() != nil)
			assert.Equal(t, tc.want == KindResponse, m.AsResponse() != nil)
		})
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	for name, in := range map[string]string{
		"version":        `{"jsonrpc":"1.0","id":1,"method":"x"}`,
		"request+result": `{"jsonrpc":"2.0","id":1,"method":"x","result":{}}`,
		"result+error":   `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"m"}}`,
		"empty response": `{"jsonrpc":"2.0","id":1}`,
		"not json":       `{`,
	} {
		t.Run(name, func(t *testing.T) {
			var m AnyMessage
			assert.Error(t, json.Unmarshal([]byte(in), &m))
		})
	}
}

func TestNewRequestWithoutIDIsNotification(t *testing.T) {
	req, err := NewRequest(nil, "notifications/tools/list_changed", nil)
	require.NoError(t, err)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, string(b))
}
