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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	byNameHessian, err := ByName(Hessian2Name)
	require.NoError(t, err)
	assert.Equal(t, Hessian2ID, byNameHessian.ID())

	byIDJSON, err := ByID(JSONID)
	require.NoError(t, err)
	assert.Equal(t, JSONName, byIDJSON.Name())

	_, err = ByName("xml")
	assert.Error(t, err)
	_, err = ByID(99)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{Hessian2Name, JSONName} {
		s, err := ByName(name)
		require.NoError(t, err)

		t.Run(name+" mixed sequence", func(t *testing.T) {
			out := s.NewOutput()
			require.NoError(t, out.WriteObject("greet"))
			require.NoError(t, out.WriteObject("hello x"))
			require.NoError(t, out.WriteObject(map[string]string{"path": "com.example.Hello", "version": "1.0"}))

			in := s.NewInput(out.Bytes())
			method, err := in.ReadString()
			require.NoError(t, err)
			assert.Equal(t, "greet", method)

			value, err := in.ReadString()
			require.NoError(t, err)
			assert.Equal(t, "hello x", value)

			attachments, err := in.ReadAttachments()
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"path": "com.example.Hello", "version": "1.0"}, attachments)
		})

		t.Run(name+" nil attachments", func(t *testing.T) {
			out := s.NewOutput()
			require.NoError(t, out.WriteObject(nil))

			in := s.NewInput(out.Bytes())
			attachments, err := in.ReadAttachments()
			require.NoError(t, err)
			assert.Empty(t, attachments)
		})

		t.Run(name+" truncated body", func(t *testing.T) {
			out := s.NewOutput()
			require.NoError(t, out.WriteObject("only one"))
			in := s.NewInput(out.Bytes())
			_, err := in.ReadString()
			require.NoError(t, err)
			_, err = in.ReadObject()
			assert.Error(t, err, "reading past the body must fail")
		})
	}
}
