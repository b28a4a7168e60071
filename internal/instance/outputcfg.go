// Copyright 2025 Emiliano Spinella (eminwux)
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
//
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

const streamKey = "webrtcid"

// Output is what the supervisor reads from an instance's output config.
type Output struct {
	StreamID int
	Geometry *api.Geometry
	// Path is the gjson path of the stream identifier.
	Path string
}

func ReadOutput(path string) (Output, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", errdefs.ErrOutputConfig, err)
	}
	return ParseOutput(raw)
}

// ParseOutput finds the first stream identifier in a depth-first walk of the
// document. Comments and trailing commas are tolerated.
func ParseOutput(raw []byte) (Output, error) {
	clean := jsonc.ToJSON(raw)
	if !gjson.ValidBytes(clean) {
		return Output{}, fmt.Errorf("%w: invalid JSON", errdefs.ErrOutputConfig)
	}

	parent, ok := findKey(gjson.ParseBytes(clean), nil)
	if !ok {
		return Output{}, fmt.Errorf("%w: no %q key", errdefs.ErrOutputConfig, streamKey)
	}

	path := joinPath(appendPath(parent, streamKey))
	v := gjson.GetBytes(clean, path)
	if v.Type != gjson.Number {
		return Output{}, fmt.Errorf("%w: %q is not a number", errdefs.ErrOutputConfig, streamKey)
	}

	out := Output{StreamID: int(v.Int()), Path: path}

	sizePath := joinPath(appendPath(parent, "size"))
	size := gjson.GetBytes(clean, sizePath)
	if size.IsObject() {
		x, y := size.Get("x"), size.Get("y")
		if x.Exists() && y.Exists() {
			out.Geometry = &api.Geometry{Width: int(x.Int()), Height: int(y.Int())}
		}
	}
	return out, nil
}

// RewriteStream sets the stream identifier and leaves every other byte of
// raw unchanged, comments included.
func RewriteStream(raw []byte, streamID int) ([]byte, error) {
	out, err := ParseOutput(raw)
	if err != nil {
		return nil, err
	}

	clean := jsonc.ToJSON(raw)
	if bytes.Equal(clean, raw) {
		res, errS := sjson.SetBytes(raw, out.Path, streamID)
		if errS != nil {
			return nil, fmt.Errorf("%w: %w", errdefs.ErrOutputConfig, errS)
		}
		return res, nil
	}

	// Comments present: splice at the value's offset in the cleaned copy,
	// which has the same length and offsets as raw.
	v := gjson.GetBytes(clean, out.Path)
	if v.Index <= 0 || v.Index+len(v.Raw) > len(raw) {
		return nil, fmt.Errorf("%w: cannot locate %q", errdefs.ErrOutputConfig, streamKey)
	}
	res := make([]byte, 0, len(raw)+4)
	res = append(res, raw[:v.Index]...)
	res = append(res, strconv.Itoa(streamID)...)
	res = append(res, raw[v.Index+len(v.Raw):]...)
	return res, nil
}

// findKey returns the path of the object holding streamKey.
func findKey(node gjson.Result, path []string) ([]string, bool) {
	switch {
	case node.IsObject():
		if node.Get(escapeKey(streamKey)).Exists() {
			return path, true
		}
		var found []string
		var ok bool
		node.ForEach(func(k, v gjson.Result) bool {
			found, ok = findKey(v, appendPath(path, k.String()))
			return !ok
		})
		return found, ok
	case node.IsArray():
		var found []string
		var ok bool
		i := 0
		node.ForEach(func(_, v gjson.Result) bool {
			found, ok = findKey(v, appendPath(path, strconv.Itoa(i)))
			i++
			return !ok
		})
		return found, ok
	default:
		return nil, false
	}
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func joinPath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = escapeKey(p)
	}
	return strings.Join(parts, ".")
}

var pathEscaper = strings.NewReplacer( //nolint:gochecknoglobals // immutable
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
)

func escapeKey(k string) string { return pathEscaper.Replace(k) }
