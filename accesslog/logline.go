// Package accesslog defines the versioned request log record and how it is
// accumulated, finalized and emitted.
package accesslog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LogLine is the versioned request log record. Exactly one version is set.
type LogLine struct {
	V1 *V1 `json:"V1,omitempty"`
}

// V1 is the first schema version of the request log record.
type V1 struct {
	DateTime time.Time `json:"date_time"`
	URL      string    `json:"url"`
	IP       string    `json:"ip"`
	Method   *string   `json:"method"`
	Bytes    *int64    `json:"bytes"`
	Status   *int      `json:"status"`
}

// MarshalJSON rejects a LogLine with no version set.
func (l LogLine) MarshalJSON() ([]byte, error) {
	if l.V1 == nil {
		return nil, errors.New("log line has no schema version set")
	}
	type versioned LogLine
	return json.Marshal(versioned(l))
}

// MarshalJSON writes date_time in UTC.
func (v V1) MarshalJSON() ([]byte, error) {
	type plain V1
	p := plain(v)
	p.DateTime = p.DateTime.UTC()
	return json.Marshal(p)
}

// MissingFieldError is returned by Build when required fields were never set.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing log line fields: %s", strings.Join(e.Fields, ", "))
}

// Builder accumulates a V1 record in two phases: request fields first,
// response fields once the outcome is known.
//
// Method and Status must be set explicitly (even to nil) for Build to succeed;
// Bytes defaults to null.
type Builder struct {
	dateTime *time.Time
	url      *string
	ip       *string
	method   **string
	bytes    *int64
	status   **int
	built    bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// DateTime sets the invocation start time.
func (b *Builder) DateTime(t time.Time) *Builder {
	b.dateTime = &t
	return b
}

// URL sets the request URL.
func (b *Builder) URL(u string) *Builder {
	b.url = &u
	return b
}

// IP sets the client address.
func (b *Builder) IP(ip string) *Builder {
	b.ip = &ip
	return b
}

// Method sets the request method; nil records that the method was not observed.
func (b *Builder) Method(m *string) *Builder {
	b.method = &m
	return b
}

// Bytes sets the response length; nil records an unknown length.
func (b *Builder) Bytes(n *int64) *Builder {
	b.bytes = n
	return b
}

// Status sets the response status code.
func (b *Builder) Status(code *int) *Builder {
	b.status = &code
	return b
}

// Build finalizes the record. A builder can only be built once.
func (b *Builder) Build() (V1, error) {
	if b.built {
		return V1{}, errors.New("log line already built")
	}

	var missing []string
	if b.dateTime == nil {
		missing = append(missing, "date_time")
	}
	if b.url == nil {
		missing = append(missing, "url")
	}
	if b.ip == nil {
		missing = append(missing, "ip")
	}
	if b.method == nil {
		missing = append(missing, "method")
	}
	if b.status == nil {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return V1{}, &MissingFieldError{Fields: missing}
	}

	b.built = true
	return V1{
		DateTime: *b.dateTime,
		URL:      *b.url,
		IP:       *b.ip,
		Method:   *b.method,
		Bytes:    b.bytes,
		Status:   *b.status,
	}, nil
}
