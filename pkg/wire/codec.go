package wire

import (
	"encoding/binary"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Version is the envelope version written by this package.
	Version byte = 1

	headerSize = 9

	minStatus = 100
	maxStatus = 599
)

var (
	requestMagic  = [4]byte{'E', 'M', 'R', 'Q'}
	responseMagic = [4]byte{'E', 'M', 'R', 'S'}
)

// Request field numbers.
const (
	fieldMethod       protowire.Number = 1
	fieldScheme       protowire.Number = 2
	fieldAuthority    protowire.Number = 3
	fieldPathAndQuery protowire.Number = 4
	fieldReqHeader    protowire.Number = 5
	fieldReqBody      protowire.Number = 6
	fieldMeta         protowire.Number = 7
)

// Response field numbers.
const (
	fieldStatus     protowire.Number = 1
	fieldRespHeader protowire.Number = 2
	fieldRespBody   protowire.Number = 3
)

// Header and meta sub-message field numbers.
const (
	fieldHeaderName  protowire.Number = 1
	fieldHeaderValue protowire.Number = 2

	fieldMetaTraceID  protowire.Number = 1
	fieldMetaDeadline protowire.Number = 2
	fieldMetaClientIP protowire.Number = 3
	fieldMetaExtra    protowire.Number = 4
)

// EncodeRequest serializes a request into a framed envelope.
func EncodeRequest(req *Request) []byte {
	var p []byte
	p = appendString(p, fieldMethod, req.Method)
	p = appendString(p, fieldScheme, req.Scheme)
	p = appendString(p, fieldAuthority, req.Authority)
	// always present, even when empty, so decoders can tell it apart from a missing field
	p = protowire.AppendTag(p, fieldPathAndQuery, protowire.BytesType)
	p = protowire.AppendString(p, req.PathAndQuery)
	p = appendHeaders(p, fieldReqHeader, req.Headers)
	p = appendBytes(p, fieldReqBody, req.Body)

	if meta := encodeMeta(&req.Meta); len(meta) > 0 {
		p = protowire.AppendTag(p, fieldMeta, protowire.BytesType)
		p = protowire.AppendBytes(p, meta)
	}

	return frame(requestMagic, p)
}

// EncodeResponse serializes a response into a framed envelope.
func EncodeResponse(resp *Response) []byte {
	var p []byte
	p = protowire.AppendTag(p, fieldStatus, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(resp.Status))
	p = appendHeaders(p, fieldRespHeader, resp.Headers)
	p = appendBytes(p, fieldRespBody, resp.Body)
	return frame(responseMagic, p)
}

// DecodeRequest parses a framed request envelope.
func DecodeRequest(b []byte) (*Request, error) {
	payload, err := unframe(requestMagic, b)
	if err != nil {
		return nil, err
	}

	req := &Request{}
	seenPath := false
	err = walk(payload, headerSize, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64, off int) error {
		switch num {
		case fieldMethod:
			req.Method = string(v)
		case fieldScheme:
			req.Scheme = string(v)
		case fieldAuthority:
			req.Authority = string(v)
		case fieldPathAndQuery:
			req.PathAndQuery = string(v)
			seenPath = true
		case fieldReqHeader:
			h, err := decodeHeader(v, off)
			if err != nil {
				return err
			}
			req.Headers = append(req.Headers, h)
		case fieldReqBody:
			req.Body = cloneBytes(v)
		case fieldMeta:
			return decodeMeta(v, off, &req.Meta)
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		fieldMethod:       protowire.BytesType,
		fieldScheme:       protowire.BytesType,
		fieldAuthority:    protowire.BytesType,
		fieldPathAndQuery: protowire.BytesType,
		fieldReqHeader:    protowire.BytesType,
		fieldReqBody:      protowire.BytesType,
		fieldMeta:         protowire.BytesType,
	})
	if err != nil {
		return nil, err
	}

	if !seenPath || req.PathAndQuery == "" {
		return nil, malformed(headerSize, "request has no path_and_query")
	}
	return req, nil
}

// DecodeResponse parses a framed response envelope.
func DecodeResponse(b []byte) (*Response, error) {
	payload, err := unframe(responseMagic, b)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	var status uint64
	err = walk(payload, headerSize, func(num protowire.Number, _ protowire.Type, v []byte, n uint64, off int) error {
		switch num {
		case fieldStatus:
			status = n
		case fieldRespHeader:
			h, err := decodeHeader(v, off)
			if err != nil {
				return err
			}
			resp.Headers = append(resp.Headers, h)
		case fieldRespBody:
			resp.Body = cloneBytes(v)
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		fieldStatus:     protowire.VarintType,
		fieldRespHeader: protowire.BytesType,
		fieldRespBody:   protowire.BytesType,
	})
	if err != nil {
		return nil, err
	}

	if status < minStatus || status > maxStatus {
		return nil, malformed(headerSize, "status %d outside [%d,%d]", status, minStatus, maxStatus)
	}
	resp.Status = uint16(status)
	return resp, nil
}

func frame(magic [4]byte, payload []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, magic[:])
	out[4] = Version
	binary.BigEndian.PutUint32(out[5:headerSize], uint32(len(payload)))
	return append(out, payload...)
}

func unframe(magic [4]byte, b []byte) ([]byte, error) {
	if len(b) < headerSize {
		return nil, truncated(len(b), "need %d header bytes, have %d", headerSize, len(b))
	}
	if [4]byte(b[:4]) != magic {
		return nil, malformed(0, "unexpected magic %q", b[:4])
	}
	if b[4] != Version {
		return nil, malformed(4, "unsupported version %d", b[4])
	}

	size := int(binary.BigEndian.Uint32(b[5:headerSize]))
	rest := b[headerSize:]
	switch {
	case len(rest) < size:
		return nil, truncated(len(b), "frame declares %d payload bytes, have %d", size, len(rest))
	case len(rest) > size:
		return nil, malformed(headerSize+size, "%d trailing bytes after frame", len(rest)-size)
	}
	return rest, nil
}

type fieldFunc func(num protowire.Number, typ protowire.Type, bytesVal []byte, varintVal uint64, offset int) error

// walk iterates over the fields of a message. Fields listed in known must
// carry the expected wire type; any other field is skipped.
func walk(b []byte, base int, fn fieldFunc, known map[protowire.Number]protowire.Type) error {
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return malformed(base+off, "bad tag: %v", protowire.ParseError(n))
		}
		fieldStart := off
		off += n

		want, isKnown := known[num]
		if !isKnown {
			m := protowire.ConsumeFieldValue(num, typ, b[off:])
			if m < 0 {
				return malformed(base+off, "bad field %d: %v", num, protowire.ParseError(m))
			}
			off += m
			continue
		}
		if typ != want {
			return malformed(base+fieldStart, "field %d has wire type %d, want %d", num, typ, want)
		}

		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b[off:])
			if m < 0 {
				return malformed(base+off, "field %d: %v", num, protowire.ParseError(m))
			}
			if err := fn(num, typ, v, 0, base+off); err != nil {
				return err
			}
			off += m
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b[off:])
			if m < 0 {
				return malformed(base+off, "field %d: %v", num, protowire.ParseError(m))
			}
			if err := fn(num, typ, nil, v, base+off); err != nil {
				return err
			}
			off += m
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendHeaders(b []byte, num protowire.Number, headers []Header) []byte {
	for _, h := range headers {
		var m []byte
		m = appendBytes(m, fieldHeaderName, h.Name)
		m = appendBytes(m, fieldHeaderValue, h.Value)
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func encodeMeta(m *Meta) []byte {
	var b []byte
	b = appendString(b, fieldMetaTraceID, m.TraceID)
	if !m.Deadline.IsZero() {
		b = protowire.AppendTag(b, fieldMetaDeadline, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Deadline.UnixNano()))
	}
	b = appendString(b, fieldMetaClientIP, m.ClientIP)
	return appendHeaders(b, fieldMetaExtra, m.Extra)
}

func decodeHeader(b []byte, base int) (Header, error) {
	var h Header
	err := walk(b, base, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64, _ int) error {
		switch num {
		case fieldHeaderName:
			h.Name = cloneBytes(v)
		case fieldHeaderValue:
			h.Value = cloneBytes(v)
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		fieldHeaderName:  protowire.BytesType,
		fieldHeaderValue: protowire.BytesType,
	})
	return h, err
}

func decodeMeta(b []byte, base int, m *Meta) error {
	return walk(b, base, func(num protowire.Number, _ protowire.Type, v []byte, n uint64, off int) error {
		switch num {
		case fieldMetaTraceID:
			m.TraceID = string(v)
		case fieldMetaDeadline:
			m.Deadline = time.Unix(0, int64(n))
		case fieldMetaClientIP:
			m.ClientIP = string(v)
		case fieldMetaExtra:
			h, err := decodeHeader(v, off)
			if err != nil {
				return err
			}
			m.Extra = append(m.Extra, h)
		}
		return nil
	}, map[protowire.Number]protowire.Type{
		fieldMetaTraceID:  protowire.BytesType,
		fieldMetaDeadline: protowire.VarintType,
		fieldMetaClientIP: protowire.BytesType,
		fieldMetaExtra:    protowire.BytesType,
	})
}

// cloneBytes detaches decoded values from the input buffer, which may be
// memory owned by the artifact.
func cloneBytes(v []byte) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
