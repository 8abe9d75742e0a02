package jsonrpc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseMarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want string
	}{
		{
			name: "nil result",
			resp: NewResultResponse(json.RawMessage(`1`), nil),
			want: `{"jsonrpc":"2.0","result":null,"id":1}`,
		},
		{
			name: "nil id",
			resp: NewErrorResponse(nil, NewError(CodeParseError, "Parse Error")),
			want: `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse Error"},"id":null}`,
		},
		{
			name: "error data",
			resp: NewErrorResponse(json.RawMessage(`"a"`), NewErrorData(-32000, "x", []int{1})),
			want: `{"jsonrpc":"2.0","error":{"code":-32000,"message":"x","data":[1]},"id":"a"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRequestIsNotification(t *testing.T) {
	assert.True(t, (&Request{Method: "m"}).IsNotification())
	assert.False(t, (&Request{Method: "m", ID: json.RawMessage(`null`)}).IsNotification())
}

func TestDefaultCodec(t *testing.T) {
	codec := DefaultCodec()

	var v any
	require.NoError(t, codec.Unmarshal([]byte(`{"n":12345678901234567890}`), &v))
	assert.Equal(t, json.Number("12345678901234567890"), v.(map[string]any)["n"])

	assert.Error(t, codec.Unmarshal([]byte(`{} []`), &v))
	assert.Error(t, codec.Unmarshal([]byte(``), &v))

	b, err := codec.Marshal(map[string]string{"html": "<b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>"}`, string(b))
	assert.False(t, bytes.HasSuffix(b, []byte("\n")))
}
