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

package discovery

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// PrintHuman writes any struct/map/slice in a human-readable, indented form.
// Struct fields are named by their json tag and empty optional fields are
// skipped.
func PrintHuman(w io.Writer, v any, indent string) {
	printValue(w, reflect.ValueOf(v), indent)
}

func printValue(w io.Writer, v reflect.Value, indent string) {
	if !v.IsValid() {
		fmt.Fprintf(w, "%s<nil>\n", indent)
		return
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			fmt.Fprintf(w, "%s<nil>\n", indent)
			return
		}
		printValue(w, v.Elem(), indent)

	case reflect.Struct:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			fmt.Fprintf(w, "%s%s\n", indent, s.String())
			return
		}
		handleStruct(w, v, indent)

	case reflect.Map:
		handleMap(w, v, indent)

	case reflect.Slice, reflect.Array:
		handleSliceArray(w, v, indent)

	case reflect.String:
		s := strings.TrimSpace(v.String())
		if s == "" {
			s = `""`
		}
		fmt.Fprintf(w, "%s%s\n", indent, s)

	default:
		fmt.Fprintf(w, "%s%v\n", indent, v.Interface())
	}
}

func handleStruct(w io.Writer, v reflect.Value, indent string) {
	t := v.Type()
	for i := range v.NumField() {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		name, omitEmpty, skip := fieldName(field)
		if skip || (omitEmpty && value.IsZero()) {
			continue
		}
		if isScalar(value) {
			fmt.Fprintf(w, "%s%s: ", indent, name)
			printValue(w, value, "")
			continue
		}
		fmt.Fprintf(w, "%s%s:\n", indent, name)
		printValue(w, value, indent+"  ")
	}
}

func fieldName(f reflect.StructField) (string, bool, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, strings.Contains(opts, "omitempty"), false
}

func isScalar(v reflect.Value) bool {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		_, ok := v.Interface().(fmt.Stringer)
		return ok
	case reflect.Map, reflect.Slice, reflect.Array:
		return false
	default:
		return true
	}
}

func handleMap(w io.Writer, v reflect.Value, indent string) {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	for _, k := range keys {
		fmt.Fprintf(w, "%s%v: ", indent, k)
		printValue(w, v.MapIndex(k), "")
	}
}

func handleSliceArray(w io.Writer, v reflect.Value, indent string) {
	if v.Len() == 0 {
		fmt.Fprintf(w, "%s[]\n", indent)
		return
	}
	for i := range v.Len() {
		fmt.Fprintf(w, "%s- ", indent)
		printValue(w, v.Index(i), "")
	}
}
