// Package wire implements the binary envelope exchanged between the host and
// a function artifact. Both directions are framed with a short header and a
// protobuf wire-format payload so that either side can add fields without
// breaking the other.
package wire

import "time"

// Header is a single header line. Names and values are raw bytes; ordering
// and duplicates are significant. A nil and an empty value encode the same
// way and decode as nil, as do empty bodies.
type Header struct {
	Name  []byte
	Value []byte
}

// Meta carries host-side context that is not part of the HTTP request.
type Meta struct {
	TraceID  string
	Deadline time.Time
	ClientIP string
	Extra    []Header
}

// Request is the normalized HTTP request handed to an artifact.
type Request struct {
	Method       string
	Scheme       string
	Authority    string
	PathAndQuery string
	Headers      []Header
	Body         []byte
	Meta         Meta
}

// Response is what an artifact returns.
type Response struct {
	Status  uint16
	Headers []Header
	Body    []byte
}

// AddHeader appends a header, keeping any existing header with the same name.
func (r *Request) AddHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: []byte(name), Value: []byte(value)})
}

// AddHeader appends a header, keeping any existing header with the same name.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: []byte(name), Value: []byte(value)})
}
