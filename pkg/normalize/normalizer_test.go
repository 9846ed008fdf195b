// Copyright 2025 The repograph Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizeSource(t *testing.T, path, src string) *NormalizedFile {
	t.Helper()
	n := NewNormalizer(nil)
	record := n.Normalize([]byte(src), path)
	require.NotNil(t, record)
	return record
}

// TestNormalize_Functions tests basic function extraction.
func TestNormalize_Functions(t *testing.T) {
	record := normalizeSource(t, "src/math.js", `
function add(a, b) { return a + b; }
function subtract(a, b) { return a - b; }
`)

	require.Len(t, record.Entities.Functions, 2)
	assert.Equal(t, "src/math.js::add", record.Entities.Functions[0].ID)
	assert.Equal(t, "add", record.Entities.Functions[0].Name)
	assert.Equal(t, GlobalScope, record.Entities.Functions[0].Scope)
	assert.Equal(t, []string{"a", "b"}, record.Entities.Functions[0].Params)
	assert.Equal(t, "subtract", record.Entities.Functions[1].Name)
}

// TestNormalize_ArrowFunctions tests function-valued variable initializers.
func TestNormalize_ArrowFunctions(t *testing.T) {
	record := normalizeSource(t, "src/ops.js", `
const double = (x) => x * 2;
const greet = function (name) { return "hi " + name; };
`)

	require.Len(t, record.Entities.Functions, 2)
	assert.Equal(t, "double", record.Entities.Functions[0].Name)
	assert.Equal(t, "greet", record.Entities.Functions[1].Name)

	require.Len(t, record.Entities.Variables, 2)
	assert.Equal(t, "const", record.Entities.Variables[0].DeclarationKind)
	assert.Equal(t, "arrow_function", record.Entities.Variables[0].ValueType)
}

// TestNormalize_Classes tests class extraction, including arrow-function
// properties behaving as methods.
func TestNormalize_Classes(t *testing.T) {
	record := normalizeSource(t, "src/user.js", `
class UserService {
  count = 0;
  find(id) { return this.load(id); }
  save = (user) => { this.validate(user); };
}
`)

	require.Len(t, record.Entities.Classes, 1)
	cls := record.Entities.Classes[0]
	assert.Equal(t, "UserService", cls.Name)
	assert.Equal(t, []string{"find", "save"}, cls.Methods)
	assert.Equal(t, []string{"count", "save"}, cls.Properties)

	ids := make(map[string]Function)
	for _, fn := range record.Entities.Functions {
		ids[fn.ID] = fn
	}
	find, ok := ids["src/user.js::UserService.find"]
	require.True(t, ok, "method should become a Function entity keyed Class.method")
	assert.Equal(t, "UserService", find.Scope)
	assert.Equal(t, []string{"this.load"}, find.Calls)

	save, ok := ids["src/user.js::UserService.save"]
	require.True(t, ok, "arrow property should become a Function entity")
	assert.Equal(t, []string{"this.validate"}, save.Calls)
}

// TestNormalize_Imports tests import classification and symbol collection.
func TestNormalize_Imports(t *testing.T) {
	record := normalizeSource(t, "src/app.ts", `
import fs from "fs";
import { join, basename as base } from "./paths";
import * as api from "@/api/client";
`)

	require.Len(t, record.Imports, 3)

	assert.Equal(t, ImportExternal, record.Imports[0].Kind)
	assert.Equal(t, []string{"fs"}, record.Imports[0].Symbols)

	assert.Equal(t, ImportLocal, record.Imports[1].Kind)
	assert.Equal(t, "./paths", record.Imports[1].Source)
	assert.Equal(t, []string{"join", "base"}, record.Imports[1].Symbols)

	assert.Equal(t, ImportAlias, record.Imports[2].Kind)
	assert.Equal(t, []string{"api"}, record.Imports[2].Symbols)
}

// TestNormalize_RequireImports tests require() bindings treated as imports.
func TestNormalize_RequireImports(t *testing.T) {
	record := normalizeSource(t, "lib/db.js", `
const knex = require("knex");
const helpers = require("./helpers");
`)

	require.Len(t, record.Imports, 2)
	assert.Equal(t, "knex", record.Imports[0].Source)
	assert.Equal(t, ImportExternal, record.Imports[0].Kind)
	assert.Equal(t, []string{"knex"}, record.Imports[0].Symbols)
	assert.Equal(t, ImportLocal, record.Imports[1].Kind)
	assert.Equal(t, []string{"helpers"}, record.Imports[1].Symbols)
	assert.Equal(t, ModuleCommonJS, record.File.ModuleType)
}

// TestNormalize_Exports tests export recording alongside the underlying
// declaration.
func TestNormalize_Exports(t *testing.T) {
	record := normalizeSource(t, "src/index.js", `
export function boot() {}
export default class App {}
export const version = "1.0";
export { boot as start };
`)

	require.Len(t, record.Exports, 4)
	assert.Equal(t, Export{Name: "boot", Kind: "function", IsDefault: false}, record.Exports[0])
	assert.Equal(t, Export{Name: "App", Kind: "class", IsDefault: true}, record.Exports[1])
	assert.Equal(t, Export{Name: "version", Kind: "variable", IsDefault: false}, record.Exports[2])
	assert.Equal(t, Export{Name: "start", Kind: "variable", IsDefault: false}, record.Exports[3])

	// The declarations behind the exports are recorded too.
	require.Len(t, record.Entities.Functions, 1)
	assert.Equal(t, "boot", record.Entities.Functions[0].Name)
	require.Len(t, record.Entities.Classes, 1)
	assert.Equal(t, "App", record.Entities.Classes[0].Name)
	require.Len(t, record.Entities.Variables, 1)
	assert.Equal(t, "version", record.Entities.Variables[0].Name)
}

// TestNormalize_Unsupported tests that unknown languages degrade to an
// explicit marker record instead of an error.
func TestNormalize_Unsupported(t *testing.T) {
	record := normalizeSource(t, "README.md", "# hello\n")

	assert.Equal(t, ModuleUnsupported, record.File.ModuleType)
	assert.Equal(t, "unknown", record.File.Language)
	assert.Empty(t, record.Imports)
	assert.Empty(t, record.Entities.Functions)
}

// TestNormalize_Deterministic tests that repeated normalization of the same
// bytes is byte-identical.
func TestNormalize_Deterministic(t *testing.T) {
	src := `
import { a } from "./a";
export class C { m() { a(); this.n(); } n() {} }
const f = () => { C.make(); };
`
	n := NewNormalizer(nil)

	first, err := json.Marshal(n.Normalize([]byte(src), "x.ts"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := json.Marshal(n.Normalize([]byte(src), "x.ts"))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

// TestNormalize_TypeScript tests TypeScript-specific parameter shapes.
func TestNormalize_TypeScript(t *testing.T) {
	record := normalizeSource(t, "src/svc.ts", `
export function fetchUser(id: string, opts?: Options): Promise<User> {
  return client.get(id);
}
`)

	require.Len(t, record.Entities.Functions, 1)
	fn := record.Entities.Functions[0]
	assert.Equal(t, []string{"id", "opts"}, fn.Params)
	assert.Equal(t, []string{"client.get"}, fn.Calls)
	assert.Equal(t, ModuleESM, record.File.ModuleType)
}

// TestNormalize_NestedFunctions tests scope labels for nested declarations.
func TestNormalize_NestedFunctions(t *testing.T) {
	record := normalizeSource(t, "a.js", `
function outer() {
  function inner() { leaf(); }
  inner();
}
`)

	require.Len(t, record.Entities.Functions, 2)
	assert.Equal(t, "a.js::outer", record.Entities.Functions[0].ID)
	assert.Equal(t, "a.js::outer.inner", record.Entities.Functions[1].ID)
	assert.Equal(t, "outer", record.Entities.Functions[1].Scope)
	assert.Equal(t, []string{"inner"}, record.Entities.Functions[0].Calls)
	assert.Equal(t, []string{"leaf"}, record.Entities.Functions[1].Calls)
}
