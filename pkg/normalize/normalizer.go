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
	"context"
	"log/slog"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Normalizer turns raw file bytes into NormalizedFile records.
//
// A Normalizer is safe for concurrent use; Tree-sitter parsers are not, so
// parsing is serialized internally. The pipeline runs one normalization at a
// time anyway, the lock only matters for tests.
type Normalizer struct {
	logger *slog.Logger

	mu      sync.Mutex
	parsers map[string]*sitter.Parser
}

// NewNormalizer creates a normalizer with parsers for every supported
// language.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}

	parsers := make(map[string]*sitter.Parser, 3)
	for lang, grammar := range map[string]*sitter.Language{
		LangJavaScript: javascript.GetLanguage(),
		LangTypeScript: typescript.GetLanguage(),
		LangTSX:        tsx.GetLanguage(),
	} {
		p := sitter.NewParser()
		p.SetLanguage(grammar)
		parsers[lang] = p
	}

	return &Normalizer{
		logger:  logger,
		parsers: parsers,
	}
}

// Normalize converts file content into its canonical record.
//
// It never returns an error: unsupported languages yield a record with
// ModuleType "unsupported", parse failures yield an empty (but valid) record,
// and unrecognized constructs inside a parseable file are skipped.
func (n *Normalizer) Normalize(content []byte, path string) *NormalizedFile {
	lang := DetectLanguage(path)

	out := &NormalizedFile{
		File:    FileDesc{Path: path, Language: lang, ModuleType: ModuleScript},
		Imports: []Import{},
		Exports: []Export{},
		Entities: Entities{
			Classes:   []Class{},
			Functions: []Function{},
			Variables: []Variable{},
		},
	}

	if lang == "" {
		out.File.Language = "unknown"
		out.File.ModuleType = ModuleUnsupported
		return out
	}

	tree := n.parse(content, lang)
	if tree == nil {
		n.logger.Warn("normalize.parse.failed", "path", path, "language", lang)
		return out
	}
	defer tree.Close()

	w := &fileWalker{src: content, path: path, out: out}
	w.walk(tree.RootNode())

	switch {
	case w.sawESM:
		out.File.ModuleType = ModuleESM
	case w.sawRequire:
		out.File.ModuleType = ModuleCommonJS
	}

	return out
}

func (n *Normalizer) parse(content []byte, lang string) *sitter.Tree {
	n.mu.Lock()
	defer n.mu.Unlock()

	parser, ok := n.parsers[lang]
	if !ok {
		return nil
	}
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil
	}
	return tree
}

// fileWalker holds per-file traversal state: the scope label stack and the
// stack of functions whose bodies are currently open (call sites are
// attributed to the innermost one).
type fileWalker struct {
	src  []byte
	path string
	out  *NormalizedFile

	scope      []string // scope labels, innermost last
	openFuncs  []int    // indices into out.Entities.Functions
	callSeen   []map[string]struct{}
	sawESM     bool
	sawRequire bool
}

func (w *fileWalker) text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return string(w.src[node.StartByte():node.EndByte()])
}

func (w *fileWalker) currentScope() string {
	if len(w.scope) == 0 {
		return GlobalScope
	}
	return w.scope[len(w.scope)-1]
}

// qualify builds the qualified name used in function IDs. Top-level
// declarations use the bare name, nested ones are prefixed with their scope
// ("Class.method", "outer.inner").
func (w *fileWalker) qualify(name string) string {
	scope := w.currentScope()
	if scope == GlobalScope {
		return name
	}
	return scope + "." + name
}

// walk dispatches one node and recurses. Handlers that consume their whole
// subtree return true to stop the generic recursion.
func (w *fileWalker) walk(node *sitter.Node) {
	if node == nil {
		return
	}

	if w.handle(node) {
		return
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		w.walk(node.Child(i))
	}
}

// handle is the visitor over the closed set of node kinds the normalizer
// recognizes. The default case no-ops, which is what keeps Normalize from
// ever failing on surprising syntax.
func (w *fileWalker) handle(node *sitter.Node) bool {
	switch node.Type() {
	case "import_statement":
		w.handleImport(node)
		return true
	case "export_statement":
		w.handleExport(node)
		return false // recurse so the underlying declaration is also recorded
	case "class_declaration":
		w.handleClass(node)
		return true
	case "function_declaration", "generator_function_declaration":
		w.handleFunctionDecl(node)
		return true
	case "lexical_declaration", "variable_declaration":
		w.handleVariableDecl(node)
		return true
	case "call_expression":
		w.handleCall(node)
		return false // arguments may contain further calls
	default:
		return false
	}
}

// handleImport records an import declaration with its bound symbol names.
func (w *fileWalker) handleImport(node *sitter.Node) {
	w.sawESM = true

	source := unquote(w.text(node.ChildByFieldName("source")))
	if source == "" {
		return
	}

	var symbols []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "import_clause" {
			continue
		}
		symbols = append(symbols, w.importClauseSymbols(child)...)
	}

	w.out.Imports = append(w.out.Imports, Import{
		Source:  source,
		Kind:    ClassifyImport(source),
		Symbols: symbols,
	})
}

// importClauseSymbols collects the local names bound by an import clause:
// default imports, namespace imports, and named specifiers (alias wins).
func (w *fileWalker) importClauseSymbols(clause *sitter.Node) []string {
	var symbols []string
	for i := 0; i < int(clause.ChildCount()); i++ {
		child := clause.Child(i)
		switch child.Type() {
		case "identifier":
			symbols = append(symbols, w.text(child))
		case "namespace_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				if c := child.Child(j); c.Type() == "identifier" {
					symbols = append(symbols, w.text(c))
				}
			}
		case "named_imports":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					symbols = append(symbols, w.text(alias))
				} else if name := spec.ChildByFieldName("name"); name != nil {
					symbols = append(symbols, w.text(name))
				}
			}
		}
	}
	return symbols
}

// handleExport records the exported names. The declaration itself is recorded
// by the normal traversal, which continues into this node's children.
func (w *fileWalker) handleExport(node *sitter.Node) {
	w.sawESM = true

	isDefault := false
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "default" {
			isDefault = true
			break
		}
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		w.recordDeclarationExport(decl, isDefault)
		return
	}

	if value := node.ChildByFieldName("value"); value != nil {
		// export default <expression>
		name := "default"
		if value.Type() == "identifier" {
			name = w.text(value)
		}
		w.out.Exports = append(w.out.Exports, Export{Name: name, Kind: "variable", IsDefault: true})
		return
	}

	// export { a, b as c } [from "x"]
	hasSource := node.ChildByFieldName("source") != nil
	kind := "variable"
	if hasSource {
		kind = "reexport"
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		clause := node.Child(i)
		if clause.Type() != "export_clause" {
			continue
		}
		for j := 0; j < int(clause.ChildCount()); j++ {
			spec := clause.Child(j)
			if spec.Type() != "export_specifier" {
				continue
			}
			name := ""
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				name = w.text(alias)
			} else if n := spec.ChildByFieldName("name"); n != nil {
				name = w.text(n)
			}
			if name != "" {
				w.out.Exports = append(w.out.Exports, Export{Name: name, Kind: kind, IsDefault: false})
			}
		}
	}
}

func (w *fileWalker) recordDeclarationExport(decl *sitter.Node, isDefault bool) {
	switch decl.Type() {
	case "class_declaration":
		if name := w.text(decl.ChildByFieldName("name")); name != "" {
			w.out.Exports = append(w.out.Exports, Export{Name: name, Kind: "class", IsDefault: isDefault})
		}
	case "function_declaration", "generator_function_declaration":
		name := w.text(decl.ChildByFieldName("name"))
		if name == "" {
			name = "default"
		}
		w.out.Exports = append(w.out.Exports, Export{Name: name, Kind: "function", IsDefault: isDefault})
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(decl.ChildCount()); i++ {
			d := decl.Child(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			if name := w.text(d.ChildByFieldName("name")); name != "" {
				w.out.Exports = append(w.out.Exports, Export{Name: name, Kind: "variable", IsDefault: isDefault})
			}
		}
	}
}

// handleClass records a class with its methods and properties. Every method
// (including arrow-function-valued properties) also becomes a top-level
// Function entity keyed "<path>::<Class>.<member>".
func (w *fileWalker) handleClass(node *sitter.Node) {
	name := w.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}

	cls := Class{Name: name, Methods: []string{}, Properties: []string{}}
	clsIdx := len(w.out.Entities.Classes)
	w.out.Entities.Classes = append(w.out.Entities.Classes, cls)

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}

	w.scope = append(w.scope, name)
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		switch member.Type() {
		case "method_definition":
			mName := w.text(member.ChildByFieldName("name"))
			if mName == "" {
				continue
			}
			w.out.Entities.Classes[clsIdx].Methods = append(w.out.Entities.Classes[clsIdx].Methods, mName)
			w.openFunction(mName, member.ChildByFieldName("parameters"), member.ChildByFieldName("body"))
		case "public_field_definition", "field_definition":
			pName := w.text(member.ChildByFieldName("name"))
			if pName == "" {
				continue
			}
			w.out.Entities.Classes[clsIdx].Properties = append(w.out.Entities.Classes[clsIdx].Properties, pName)
			if value := member.ChildByFieldName("value"); value != nil && isFunctionValued(value) {
				// Arrow-function properties behave like methods.
				w.out.Entities.Classes[clsIdx].Methods = append(w.out.Entities.Classes[clsIdx].Methods, pName)
				w.openFunction(pName, value.ChildByFieldName("parameters"), value.ChildByFieldName("body"))
			}
		}
	}
	w.scope = w.scope[:len(w.scope)-1]
}

func (w *fileWalker) handleFunctionDecl(node *sitter.Node) {
	name := w.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	w.openFunction(name, node.ChildByFieldName("parameters"), node.ChildByFieldName("body"))
}

// handleVariableDecl records variables, turning function-valued initializers
// into Function entities and require() bindings into imports.
func (w *fileWalker) handleVariableDecl(node *sitter.Node) {
	kind := "var"
	if node.Type() == "lexical_declaration" && node.ChildCount() > 0 {
		if t := node.Child(0).Type(); t == "const" || t == "let" {
			kind = t
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		decl := node.Child(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		if nameNode == nil || nameNode.Type() != "identifier" {
			continue // destructuring patterns are skipped
		}
		name := w.text(nameNode)
		value := decl.ChildByFieldName("value")

		valueType := "undefined"
		if value != nil {
			valueType = value.Type()
		}
		w.out.Entities.Variables = append(w.out.Entities.Variables, Variable{
			Name:            name,
			DeclarationKind: kind,
			ValueType:       valueType,
		})

		switch {
		case value == nil:
		case isFunctionValued(value):
			w.openFunction(name, value.ChildByFieldName("parameters"), value.ChildByFieldName("body"))
		case isRequireCall(value, w.src):
			w.sawRequire = true
			if source := requireSource(value, w.src); source != "" {
				w.out.Imports = append(w.out.Imports, Import{
					Source:  source,
					Kind:    ClassifyImport(source),
					Symbols: []string{name},
				})
			}
		default:
			// Initializer expressions may contain calls belonging to the
			// enclosing function.
			w.walk(value)
		}
	}
}

// openFunction records a Function entity and walks its body with the entity
// active, so call sites land in its Calls set.
func (w *fileWalker) openFunction(name string, params, body *sitter.Node) {
	fn := Function{
		ID:     FunctionID(w.path, w.qualify(name)),
		Name:   name,
		Scope:  w.currentScope(),
		Params: paramNames(params, w.src),
		Calls:  []string{},
	}
	idx := len(w.out.Entities.Functions)
	w.out.Entities.Functions = append(w.out.Entities.Functions, fn)

	w.openFuncs = append(w.openFuncs, idx)
	w.callSeen = append(w.callSeen, make(map[string]struct{}))
	w.scope = append(w.scope, w.qualify(name))

	w.walk(body)

	w.scope = w.scope[:len(w.scope)-1]
	w.callSeen = w.callSeen[:len(w.callSeen)-1]
	w.openFuncs = w.openFuncs[:len(w.openFuncs)-1]
}

// handleCall attributes a call site to the innermost open function.
func (w *fileWalker) handleCall(node *sitter.Node) {
	if len(w.openFuncs) == 0 {
		return // top-level call, no owning function entity
	}
	name := ExtractCallName(node, w.src)
	if name == "" {
		return
	}

	seen := w.callSeen[len(w.callSeen)-1]
	if _, dup := seen[name]; dup {
		return
	}
	seen[name] = struct{}{}

	idx := w.openFuncs[len(w.openFuncs)-1]
	w.out.Entities.Functions[idx].Calls = append(w.out.Entities.Functions[idx].Calls, name)
}

// ClassifyImport buckets an import source into local, alias, or external.
func ClassifyImport(source string) ImportKind {
	switch {
	case strings.HasPrefix(source, "./"), strings.HasPrefix(source, "../"), source == ".", source == "..":
		return ImportLocal
	case strings.HasPrefix(source, "@/"), strings.HasPrefix(source, "~/"):
		return ImportAlias
	default:
		return ImportExternal
	}
}

func isFunctionValued(node *sitter.Node) bool {
	switch node.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	default:
		return false
	}
}

func paramNames(params *sitter.Node, src []byte) []string {
	names := []string{}
	if params == nil {
		return names
	}
	for i := 0; i < int(params.ChildCount()); i++ {
		p := params.Child(i)
		switch p.Type() {
		case "identifier":
			names = append(names, string(src[p.StartByte():p.EndByte()]))
		case "required_parameter", "optional_parameter":
			// TypeScript wraps the pattern in a parameter node.
			if pattern := p.ChildByFieldName("pattern"); pattern != nil && pattern.Type() == "identifier" {
				names = append(names, string(src[pattern.StartByte():pattern.EndByte()]))
			}
		}
	}
	return names
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '`' && s[len(s)-1] == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
