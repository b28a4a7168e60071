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
	"regexp"
	"strconv"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

const (
	interfaceIdentifier = "DefaultWebSocketInterface"
	identifierKey       = "Identifier"
	portKey             = "Port"
)

// PortLocation is where the command port literal sits in the engine config.
type PortLocation struct {
	Line  int    // 1-based line of the number literal
	Value string // literal text as written
}

func (p PortLocation) Port() (int, error) {
	n, err := strconv.Atoi(p.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q is not an integer", errdefs.ErrEngineConfig, p.Value)
	}
	return n, nil
}

func ReadPort(path string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errdefs.ErrEngineConfig, err)
	}
	loc, err := LocatePort(src)
	if err != nil {
		return 0, err
	}
	return loc.Port()
}

// LocatePort parses the engine config as Lua and finds the Port field of the
// table whose Identifier is the default websocket interface.
func LocatePort(src []byte) (PortLocation, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), "engine config")
	if err != nil {
		return PortLocation{}, fmt.Errorf("%w: %w", errdefs.ErrEngineConfig, err)
	}

	var found []PortLocation
	w := &luaWalker{visit: func(t *ast.TableExpr) {
		if loc, ok := interfacePort(t); ok {
			found = append(found, loc)
		}
	}}
	w.stmts(chunk)

	switch len(found) {
	case 0:
		return PortLocation{}, fmt.Errorf("%w: no %s table with a numeric %s", errdefs.ErrEngineConfig,
			interfaceIdentifier, portKey)
	case 1:
		return found[0], nil
	default:
		return PortLocation{}, fmt.Errorf("%w: %d %s tables", errdefs.ErrEngineConfig, len(found),
			interfaceIdentifier)
	}
}

func interfacePort(t *ast.TableExpr) (PortLocation, bool) {
	var matches bool
	var port *ast.NumberExpr
	for _, f := range t.Fields {
		key, ok := f.Key.(*ast.StringExpr)
		if !ok {
			continue
		}
		switch key.Value {
		case identifierKey:
			if v, ok := f.Value.(*ast.StringExpr); ok && v.Value == interfaceIdentifier {
				matches = true
			}
		case portKey:
			if v, ok := f.Value.(*ast.NumberExpr); ok {
				port = v
			}
		}
	}
	if !matches || port == nil {
		return PortLocation{}, false
	}
	return PortLocation{Line: port.Line(), Value: port.Value}, true
}

// RewritePort replaces the port literal located by LocatePort and leaves
// every other byte of src unchanged.
func RewritePort(src []byte, port int) ([]byte, error) {
	loc, err := LocatePort(src)
	if err != nil {
		return nil, err
	}

	start, end, err := lineBounds(src, loc.Line)
	if err != nil {
		return nil, err
	}
	line := src[start:end]

	re := regexp.MustCompile(`\b` + portKey + `\s*=\s*(` + regexp.QuoteMeta(loc.Value) + `)\b`)
	hits := re.FindAllSubmatchIndex(line, -1)
	if len(hits) != 1 {
		return nil, fmt.Errorf("%w: expected one %s literal on line %d, found %d", errdefs.ErrEngineConfig,
			portKey, loc.Line, len(hits))
	}
	valStart, valEnd := start+hits[0][2], start+hits[0][3]

	out := make([]byte, 0, len(src)+4)
	out = append(out, src[:valStart]...)
	out = append(out, strconv.Itoa(port)...)
	out = append(out, src[valEnd:]...)
	return out, nil
}

func lineBounds(src []byte, line int) (int, int, error) {
	if line < 1 {
		return 0, 0, fmt.Errorf("%w: line %d out of range", errdefs.ErrEngineConfig, line)
	}
	start := 0
	for n := 1; n < line; n++ {
		i := bytes.IndexByte(src[start:], '\n')
		if i < 0 {
			return 0, 0, fmt.Errorf("%w: line %d out of range", errdefs.ErrEngineConfig, line)
		}
		start += i + 1
	}
	end := len(src)
	if i := bytes.IndexByte(src[start:], '\n'); i >= 0 {
		end = start + i
	}
	return start, end, nil
}

type luaWalker struct {
	visit func(*ast.TableExpr)
}

func (w *luaWalker) stmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		w.stmt(s)
	}
}

func (w *luaWalker) stmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.AssignStmt:
		w.exprs(st.Lhs)
		w.exprs(st.Rhs)
	case *ast.LocalAssignStmt:
		w.exprs(st.Exprs)
	case *ast.FuncCallStmt:
		w.expr(st.Expr)
	case *ast.DoBlockStmt:
		w.stmts(st.Stmts)
	case *ast.WhileStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.RepeatStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.IfStmt:
		w.expr(st.Condition)
		w.stmts(st.Then)
		w.stmts(st.Else)
	case *ast.NumberForStmt:
		w.stmts(st.Stmts)
	case *ast.GenericForStmt:
		w.exprs(st.Exprs)
		w.stmts(st.Stmts)
	case *ast.FuncDefStmt:
		w.expr(st.Func)
	case *ast.ReturnStmt:
		w.exprs(st.Exprs)
	}
}

func (w *luaWalker) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		w.expr(e)
	}
}

func (w *luaWalker) expr(e ast.Expr) {
	switch ex := e.(type) {
	case *ast.TableExpr:
		w.visit(ex)
		for _, f := range ex.Fields {
			if f.Key != nil {
				w.expr(f.Key)
			}
			w.expr(f.Value)
		}
	case *ast.FuncCallExpr:
		if ex.Func != nil {
			w.expr(ex.Func)
		}
		if ex.Receiver != nil {
			w.expr(ex.Receiver)
		}
		w.exprs(ex.Args)
	case *ast.FunctionExpr:
		w.stmts(ex.Stmts)
	case *ast.AttrGetExpr:
		w.expr(ex.Object)
		w.expr(ex.Key)
	case *ast.LogicalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	}
}
