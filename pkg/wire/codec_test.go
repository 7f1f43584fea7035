package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestRoundTrip(t *testing.T) {
	deadline := time.Unix(0, 1_700_000_000_123_456_789)

	tests := []struct {
		name string
		req  *Request
	}{
		{
			name: "path only",
			req:  &Request{PathAndQuery: "/"},
		},
		{
			name: "full request",
			req: &Request{
				Method:       "POST",
				Scheme:       "https",
				Authority:    "example.com:8443",
				PathAndQuery: "/echo?x=1&y=2",
				Headers: []Header{
					{Name: []byte("content-type"), Value: []byte("text/plain")},
					{Name: []byte("x-dup"), Value: []byte("a")},
					{Name: []byte("x-dup"), Value: []byte("b")},
				},
				Body: []byte("ping"),
				Meta: Meta{
					TraceID:  "trace-1",
					Deadline: deadline,
					ClientIP: "10.0.0.1",
					Extra:    []Header{{Name: []byte("route"), Value: []byte("/echo")}},
				},
			},
		},
		{
			name: "non-text header bytes",
			req: &Request{
				Method:       "GET",
				PathAndQuery: "/bin",
				Headers: []Header{
					{Name: []byte("x-bin"), Value: []byte{0x00, 0xff, 0x80, '\n'}},
					{Name: []byte("x-empty")},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeRequest(EncodeRequest(tt.req))
			require.NoError(t, err)

			assert.Equal(t, tt.req.Method, decoded.Method)
			assert.Equal(t, tt.req.Scheme, decoded.Scheme)
			assert.Equal(t, tt.req.Authority, decoded.Authority)
			assert.Equal(t, tt.req.PathAndQuery, decoded.PathAndQuery)
			assert.Equal(t, tt.req.Headers, decoded.Headers)
			assert.Equal(t, tt.req.Body, decoded.Body)
			assert.Equal(t, tt.req.Meta.TraceID, decoded.Meta.TraceID)
			assert.Equal(t, tt.req.Meta.ClientIP, decoded.Meta.ClientIP)
			assert.Equal(t, tt.req.Meta.Extra, decoded.Meta.Extra)
			assert.True(t, tt.req.Meta.Deadline.Equal(decoded.Meta.Deadline))
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
	}{
		{name: "empty body", resp: &Response{Status: 204}},
		{
			name: "headers in order",
			resp: &Response{
				Status: 200,
				Headers: []Header{
					{Name: []byte("set-cookie"), Value: []byte("a=1")},
					{Name: []byte("set-cookie"), Value: []byte("b=2")},
					{Name: []byte("content-type"), Value: []byte("application/json")},
				},
				Body: []byte(`{"ok":true}`),
			},
		},
		{name: "lowest status", resp: &Response{Status: 100}},
		{name: "highest status", resp: &Response{Status: 599, Body: []byte{0, 1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeResponse(EncodeResponse(tt.resp))
			require.NoError(t, err)
			assert.Equal(t, tt.resp, decoded)
		})
	}
}

func TestEmptyHeaderValueKeepsItsPlace(t *testing.T) {
	resp := &Response{
		Status: 200,
		Headers: []Header{
			{Name: []byte("x-a"), Value: []byte("1")},
			{Name: []byte("x-empty"), Value: []byte{}},
			{Name: []byte("x-b"), Value: []byte("2")},
		},
		Body: []byte{},
	}

	decoded, err := DecodeResponse(EncodeResponse(resp))
	require.NoError(t, err)
	require.Len(t, decoded.Headers, 3)
	assert.Equal(t, "x-empty", string(decoded.Headers[1].Name))
	assert.Nil(t, decoded.Headers[1].Value)
	assert.Equal(t, "2", string(decoded.Headers[2].Value))
	assert.Nil(t, decoded.Body)
}

func TestDecodeTruncated(t *testing.T) {
	full := EncodeResponse(&Response{Status: 200, Body: []byte("hello")})

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "partial header", input: full[:5]},
		{name: "partial payload", input: full[:len(full)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.input)
			assert.ErrorIs(t, err, ErrTruncated)
			assert.NotErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := EncodeResponse(&Response{Status: 200})

	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 'X'

	badVersion := append([]byte(nil), valid...)
	badVersion[4] = 9

	trailing := append(append([]byte(nil), valid...), 0x01)

	// body field claims more bytes than the payload holds
	var overflow []byte
	overflow = protowire.AppendTag(overflow, fieldStatus, protowire.VarintType)
	overflow = protowire.AppendVarint(overflow, 200)
	overflow = protowire.AppendTag(overflow, fieldRespBody, protowire.BytesType)
	overflow = protowire.AppendVarint(overflow, 50)
	overflow = append(overflow, []byte("short")...)

	var wrongType []byte
	wrongType = protowire.AppendTag(wrongType, fieldStatus, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "200")

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "bad magic", input: badMagic},
		{name: "bad version", input: badVersion},
		{name: "trailing bytes", input: trailing},
		{name: "inner length overflow", input: frame(responseMagic, overflow)},
		{name: "wrong wire type", input: frame(responseMagic, wrongType)},
		{name: "status too low", input: EncodeResponse(&Response{Status: 99})},
		{name: "status too high", input: EncodeResponse(&Response{Status: 600})},
		{name: "missing status", input: frame(responseMagic, nil)},
		{name: "request envelope", input: EncodeRequest(&Request{PathAndQuery: "/"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.input)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeRequestRequiresPath(t *testing.T) {
	_, err := DecodeRequest(EncodeRequest(&Request{Method: "GET"}))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeRequest(frame(requestMagic, nil))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var p []byte
	p = protowire.AppendTag(p, fieldStatus, protowire.VarintType)
	p = protowire.AppendVarint(p, 201)
	p = protowire.AppendTag(p, 42, protowire.BytesType)
	p = protowire.AppendString(p, "future")
	p = protowire.AppendTag(p, 43, protowire.Fixed64Type)
	p = protowire.AppendFixed64(p, 7)

	resp, err := DecodeResponse(frame(responseMagic, p))
	require.NoError(t, err)
	assert.Equal(t, uint16(201), resp.Status)
}

func TestDecodedValuesDoNotAliasInput(t *testing.T) {
	buf := EncodeResponse(&Response{Status: 200, Body: []byte("abc")})
	resp, err := DecodeResponse(buf)
	require.NoError(t, err)

	for i := range buf {
		buf[i] = 0
	}
	assert.Equal(t, []byte("abc"), resp.Body)
}
