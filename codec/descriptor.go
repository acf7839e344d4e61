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

package codec

import (
	"strings"

	"go.uber.org/courier/couriererrors"
)

// Parameter types travel on the wire as JVM-style descriptors concatenated
// into one string: primitives are single letters, objects are "L<name>;",
// arrays prefix "[". The argument count of a request is recovered by
// splitting the descriptor string.

// JoinDescriptors concatenates type descriptors into the wire form.
func JoinDescriptors(descriptors []string) string {
	return strings.Join(descriptors, "")
}

// SplitDescriptors splits the wire descriptor string back into one
// descriptor per parameter.
func SplitDescriptors(descriptor string) ([]string, error) {
	var out []string
	i := 0
	for i < len(descriptor) {
		start := i
		for i < len(descriptor) && descriptor[i] == '[' {
			i++
		}
		if i >= len(descriptor) {
			return nil, couriererrors.SerializationErrorf("truncated type descriptor %q", descriptor)
		}
		switch descriptor[i] {
		case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
			i++
		case 'L':
			end := strings.IndexByte(descriptor[i:], ';')
			if end < 0 {
				return nil, couriererrors.SerializationErrorf("unterminated object descriptor %q", descriptor)
			}
			i += end + 1
		default:
			return nil, couriererrors.SerializationErrorf(
				"bad type descriptor character %q in %q", descriptor[i], descriptor)
		}
		out = append(out, descriptor[start:i])
	}
	return out, nil
}

// Descriptor constants for the types the generic paths traffic in.
const (
	DescriptorString = "Ljava/lang/String;"
	DescriptorObject = "Ljava/lang/Object;"
	DescriptorMap    = "Ljava/util/Map;"
	DescriptorList   = "Ljava/util/List;"
	DescriptorBool   = "Z"
	DescriptorInt    = "I"
	DescriptorLong   = "J"
	DescriptorDouble = "D"
	DescriptorBytes  = "[B"
)

// DescriptorOf maps a Go value to its wire type descriptor. Unknown types
// descriptor as plain objects, which every serialization can carry.
func DescriptorOf(v interface{}) string {
	switch v.(type) {
	case string:
		return DescriptorString
	case bool:
		return DescriptorBool
	case int8, int16, int32:
		return DescriptorInt
	case int, int64:
		return DescriptorLong
	case float32, float64:
		return DescriptorDouble
	case []byte:
		return DescriptorBytes
	case map[string]interface{}, map[string]string, map[interface{}]interface{}:
		return DescriptorMap
	case []interface{}:
		return DescriptorList
	default:
		return DescriptorObject
	}
}

// DescriptorsOf maps each argument to its wire type descriptor.
func DescriptorsOf(args []interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = DescriptorOf(a)
	}
	return out
}
