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
	hessian "github.com/apache/dubbo-go-hessian2"

	"go.uber.org/courier/couriererrors"
)

func init() {
	if err := Register(hessian2{}); err != nil {
		panic(err)
	}
}

// hessian2 is the default body format, wire id 2.
type hessian2 struct{}

func (hessian2) ID() byte     { return Hessian2ID }
func (hessian2) Name() string { return Hessian2Name }

func (hessian2) NewOutput() Output {
	return &hessian2Output{encoder: hessian.NewEncoder()}
}

func (hessian2) NewInput(data []byte) Input {
	return &hessian2Input{decoder: hessian.NewDecoder(data)}
}

type hessian2Output struct {
	encoder *hessian.Encoder
}

func (o *hessian2Output) WriteObject(v interface{}) error {
	if err := o.encoder.Encode(v); err != nil {
		return couriererrors.SerializationErrorf("hessian2 encode: %v", err)
	}
	return nil
}

func (o *hessian2Output) Bytes() []byte { return o.encoder.Buffer() }

type hessian2Input struct {
	decoder *hessian.Decoder
}

func (i *hessian2Input) ReadObject() (interface{}, error) {
	v, err := i.decoder.Decode()
	if err != nil {
		return nil, couriererrors.SerializationErrorf("hessian2 decode: %v", err)
	}
	return v, nil
}

func (i *hessian2Input) ReadString() (string, error) {
	v, err := i.ReadObject()
	if err != nil {
		return "", err
	}
	return coerceString(v)
}

func (i *hessian2Input) ReadAttachments() (map[string]string, error) {
	v, err := i.ReadObject()
	if err != nil {
		return nil, err
	}
	return coerceAttachments(v)
}
