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
	sitter "github.com/smacker/go-tree-sitter"
)

// ExtractCallName derives the callee name recorded for a call expression.
//
// This is name-based evidence, not resolution: a bare identifier call records
// that identifier ("doWork"), a member call records "<object>.<method>"
// ("utils.parse"), a self-reference records "this.<method>" ("this.save"),
// and unresolvable receivers or properties record "unknown" in their slot.
// Returns "" for call shapes that carry no usable name (IIFEs, chained call
// results, computed callees).
func ExtractCallName(call *sitter.Node, src []byte) string {
	callee := call.ChildByFieldName("function")
	if callee == nil {
		return ""
	}

	switch callee.Type() {
	case "identifier":
		return nodeText(callee, src)
	case "member_expression":
		return memberCallName(callee, src)
	default:
		return ""
	}
}

func memberCallName(member *sitter.Node, src []byte) string {
	object := member.ChildByFieldName("object")
	property := member.ChildByFieldName("property")

	receiver := "unknown"
	if object != nil {
		switch object.Type() {
		case "this":
			receiver = "this"
		case "identifier":
			receiver = nodeText(object, src)
		}
	}

	method := "unknown"
	if property != nil && property.Type() == "property_identifier" {
		method = nodeText(property, src)
	}

	return receiver + "." + method
}

func nodeText(node *sitter.Node, src []byte) string {
	return string(src[node.StartByte():node.EndByte()])
}

// isRequireCall reports whether the node is a require("...") call.
func isRequireCall(node *sitter.Node, src []byte) bool {
	if node.Type() != "call_expression" {
		return false
	}
	callee := node.ChildByFieldName("function")
	return callee != nil && callee.Type() == "identifier" && nodeText(callee, src) == "require"
}

// requireSource extracts the module path from a require("...") call.
// Returns "" for dynamic arguments.
func requireSource(node *sitter.Node, src []byte) string {
	args := node.ChildByFieldName("arguments")
	if args == nil {
		return ""
	}
	for i := 0; i < int(args.ChildCount()); i++ {
		arg := args.Child(i)
		if arg.Type() == "string" {
			return unquote(nodeText(arg, src))
		}
	}
	return ""
}
