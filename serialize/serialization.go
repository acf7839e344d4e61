// Copyright (c) 2024 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package serialize registers the body serializations the wire codec can
// speak. The serialization is chosen per URL and identified on the wire by a
// single id byte in the frame header's flag field.
package serialize

import (
	"sync"

	"go.uber.org/courier/couriererrors"
)

// Wire ids of the body serializations.
const (
	Hessian2ID byte = 2
	JSONID     byte = 6
)

// Names of the body serializations, used in URL parameters.
const (
	Hessian2Name = "hessian2"
	JSONName     = "json"

	// DefaultName is used when a URL names no serialization.
	DefaultName = Hessian2Name
)

// Output encodes a sequence of objects into one body.
type Output interface {
	// WriteObject appends one value to the body.
	WriteObject(v interface{}) error

	// Bytes returns the body encoded so far.
	Bytes() []byte
}

// Input decodes the sequence of objects from one body.
type Input interface {
	// ReadObject decodes the next value.
	ReadObject() (interface{}, error)

	// ReadString decodes the next value and coerces it to a string; nil
	// decodes as "".
	ReadString() (string, error)

	// ReadAttachments decodes the next value as a string map; nil decodes
	// as an empty map.
	ReadAttachments() (map[string]string, error)
}

// Serialization produces Outputs and Inputs for one body format.
type Serialization interface {
	// ID returns the wire id (low five bits of the header flag byte).
	ID() byte

	// Name returns the name used in URL parameters.
	Name() string

	// NewOutput returns an empty body encoder.
	NewOutput() Output

	// NewInput returns a decoder over data.
	NewInput(data []byte) Input
}

var (
	mu      sync.RWMutex
	byName  = make(map[string]Serialization)
	byID    = make(map[byte]Serialization)
)

// Register makes a serialization resolvable by name and id. Duplicate
// registrations error.
func Register(s Serialization) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := byName[s.Name()]; ok {
		return couriererrors.InternalErrorf("serialization %q already registered", s.Name())
	}
	if _, ok := byID[s.ID()]; ok {
		return couriererrors.InternalErrorf("serialization id %d already registered", s.ID())
	}
	byName[s.Name()] = s
	byID[s.ID()] = s
	return nil
}

// ByName resolves a serialization by its URL parameter name.
func ByName(name string) (Serialization, error) {
	mu.RLock()
	defer mu.RUnlock()
	if s, ok := byName[name]; ok {
		return s, nil
	}
	return nil, couriererrors.SerializationErrorf("unknown serialization %q", name)
}

// ByID resolves a serialization by its wire id.
func ByID(id byte) (Serialization, error) {
	mu.RLock()
	defer mu.RUnlock()
	if s, ok := byID[id]; ok {
		return s, nil
	}
	return nil, couriererrors.SerializationErrorf("unknown serialization id %d", id)
}

// coerceString turns a decoded value into a string.
func coerceString(v interface{}) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", couriererrors.SerializationErrorf("expected string, decoded %T", v)
	}
}

// coerceAttachments turns a decoded value into a string map.
func coerceAttachments(v interface{}) (map[string]string, error) {
	out := make(map[string]string)
	switch m := v.(type) {
	case nil:
		return out, nil
	case map[string]string:
		return m, nil
	case map[string]interface{}:
		for k, mv := range m {
			s, err := coerceString(mv)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case map[interface{}]interface{}:
		for k, mv := range m {
			ks, err := coerceString(k)
			if err != nil {
				return nil, err
			}
			s, err := coerceString(mv)
			if err != nil {
				return nil, err
			}
			out[ks] = s
		}
		return out, nil
	default:
		return nil, couriererrors.SerializationErrorf("expected attachments map, decoded %T", v)
	}
}
