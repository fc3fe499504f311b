// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"slices"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/folio/core"
)

// Encoding versions written as the first byte of every stored value.
const (
	recordFormatV1     byte = 1
	collectionFormatV1 byte = 1
)

// encoder appends MUS-encoded fields to a preallocated buffer.
type encoder struct {
	bs []byte
	n  int
}

func (e *encoder) byte(v byte) {
	e.bs[e.n] = v
	e.n++
}

func (e *encoder) uint64(v uint64) { e.n += varint.Uint64.Marshal(v, e.bs[e.n:]) }
func (e *encoder) int(v int)       { e.n += varint.Int.Marshal(v, e.bs[e.n:]) }
func (e *encoder) string(v string) { e.n += ord.String.Marshal(v, e.bs[e.n:]) }
func (e *encoder) float32(v float32) {
	e.n += raw.Float32.Marshal(v, e.bs[e.n:])
}

// decoder reads MUS-encoded fields, keeping the first error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	if d.n >= len(d.bs) {
		d.err = ErrTruncatedData
		return 0
	}
	v := d.bs[d.n]
	d.n++
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.setErr(err)
	return v
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.bs[d.n:])
	d.n += n
	d.setErr(err)
	return v
}

// length reads a collection length and checks it against the bytes left,
// given that every element takes at least minElemSize bytes.
func (d *decoder) length(minElemSize int) int {
	l := d.int()
	if d.err == nil && (l < 0 || l*minElemSize > len(d.bs)-d.n) {
		d.err = ErrTruncatedData
		return 0
	}
	return l
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	d.setErr(err)
	return v
}

func (d *decoder) float32() float32 {
	if d.err != nil {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(d.bs[d.n:])
	d.n += n
	d.setErr(err)
	return v
}

func (d *decoder) setErr(err error) {
	if err != nil {
		d.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func recordSize(r *core.Record) int {
	size := 1 + varint.Uint64.Size(uint64(r.Id))
	size += varint.Int.Size(len(r.Vector))
	for _, f := range r.Vector {
		size += raw.Float32.Size(f)
	}
	p := &r.Payload
	size += ord.String.Size(p.Text) + ord.String.Size(p.SourceReference)
	size += varint.Int.Size(p.Position) + ord.String.Size(string(p.ContentType)) + ord.String.Size(p.Title)
	size += varint.Int.Size(len(p.Extra))
	for k, v := range p.Extra {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return size
}

// MarshalRecord serializes a Record to bytes.
// Map entries are written in key order so equal records encode identically.
func MarshalRecord(r *core.Record) []byte {
	e := &encoder{bs: make([]byte, recordSize(r))}
	e.byte(recordFormatV1)
	e.uint64(uint64(r.Id))
	e.int(len(r.Vector))
	for _, f := range r.Vector {
		e.float32(f)
	}
	p := &r.Payload
	e.string(p.Text)
	e.string(p.SourceReference)
	e.int(p.Position)
	e.string(string(p.ContentType))
	e.string(p.Title)
	e.int(len(p.Extra))
	for _, k := range sortedKeys(p.Extra) {
		e.string(k)
		e.string(p.Extra[k])
	}
	return e.bs[:e.n]
}

// UnmarshalRecord deserializes a Record from bytes.
func UnmarshalRecord(data []byte) (*core.Record, error) {
	d := &decoder{bs: data}
	if v := d.byte(); d.err == nil && v != recordFormatV1 {
		return nil, fmt.Errorf("%w: unknown record format %d", ErrSerializationFailed, v)
	}

	r := &core.Record{Id: core.ID(d.uint64())}
	if n := d.length(1); n > 0 {
		r.Vector = make([]float32, n)
		for i := range r.Vector {
			r.Vector[i] = d.float32()
		}
	}
	r.Payload.Text = d.string()
	r.Payload.SourceReference = d.string()
	r.Payload.Position = d.int()
	r.Payload.ContentType = core.ContentType(d.string())
	r.Payload.Title = d.string()
	if n := d.length(2); n > 0 {
		r.Payload.Extra = make(map[string]string, n)
		for i := 0; i < n && d.err == nil; i++ {
			k := d.string()
			r.Payload.Extra[k] = d.string()
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

// MarshalCollection serializes collection parameters to bytes.
func MarshalCollection(c core.Collection) []byte {
	size := 1 + ord.String.Size(c.Name) + varint.Int.Size(c.Dimension) + ord.String.Size(string(c.Metric))
	e := &encoder{bs: make([]byte, size)}
	e.byte(collectionFormatV1)
	e.string(c.Name)
	e.int(c.Dimension)
	e.string(string(c.Metric))
	return e.bs[:e.n]
}

// UnmarshalCollection deserializes collection parameters from bytes.
func UnmarshalCollection(data []byte) (core.Collection, error) {
	d := &decoder{bs: data}
	if v := d.byte(); d.err == nil && v != collectionFormatV1 {
		return core.Collection{}, fmt.Errorf("%w: unknown collection format %d", ErrSerializationFailed, v)
	}
	c := core.Collection{
		Name:      d.string(),
		Dimension: d.int(),
		Metric:    core.Metric(d.string()),
	}
	if d.err != nil {
		return core.Collection{}, d.err
	}
	return c, nil
}
