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

package serialize

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"

	"go.uber.org/courier/couriererrors"
)

func init() {
	if err := Register(jsonSerialization{}); err != nil {
		panic(err)
	}
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonSerialization writes one JSON document per object, newline separated;
// wire id 6.
type jsonSerialization struct{}

func (jsonSerialization) ID() byte     { return JSONID }
func (jsonSerialization) Name() string { return JSONName }

func (jsonSerialization) NewOutput() Output {
	return &jsonOutput{}
}

func (jsonSerialization) NewInput(data []byte) Input {
	return &jsonInput{decoder: jsonAPI.NewDecoder(bytes.NewReader(data))}
}

type jsonOutput struct {
	buf bytes.Buffer
}

func (o *jsonOutput) WriteObject(v interface{}) error {
	encoded, err := jsonAPI.Marshal(v)
	if err != nil {
		return couriererrors.SerializationErrorf("json encode: %v", err)
	}
	o.buf.Write(encoded)
	o.buf.WriteByte('\n')
	return nil
}

func (o *jsonOutput) Bytes() []byte { return o.buf.Bytes() }

type jsonInput struct {
	decoder *jsoniter.Decoder
}

func (i *jsonInput) ReadObject() (interface{}, error) {
	var v interface{}
	if err := i.decoder.Decode(&v); err != nil {
		return nil, couriererrors.SerializationErrorf("json decode: %v", err)
	}
	return v, nil
}

func (i *jsonInput) ReadString() (string, error) {
	v, err := i.ReadObject()
	if err != nil {
		return "", err
	}
	return coerceString(v)
}

func (i *jsonInput) ReadAttachments() (map[string]string, error) {
	v, err := i.ReadObject()
	if err != nil {
		return nil, err
	}
	return coerceAttachments(v)
}
