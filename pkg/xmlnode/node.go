// Copyright 2022 The jackal Authors
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

package xmlnode

import (
	"sort"
	"strings"
)

const pathSeparator = "/"

// Node represents a parsed XML element.
//
// A node owns its children. The parent reference is kept for diagnostics only
// and it's never followed while parsing or looking up elements.
type Node struct {
	name     string
	text     string
	attrs    map[string]string
	children []*Node
	parent   *Node
}

// New returns a new Node with the given name and attribute set.
func New(name string, attrs map[string]string) *Node {
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return &Node{name: name, attrs: cp}
}

// Name returns node element name.
func (n *Node) Name() string { return n.name }

// Text returns node character data.
func (n *Node) Text() string { return n.text }

// Parent returns node parent, if any.
func (n *Node) Parent() *Node { return n.parent }

// Children returns node children in document order.
func (n *Node) Children() []*Node { return n.children }

// Attributes returns a copy of the node attribute set.
func (n *Node) Attributes() map[string]string {
	cp := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		cp[k] = v
	}
	return cp
}

// GetAttribute returns the value associated to an attribute name.
func (n *Node) GetAttribute(name string) (string, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// GetAttributeOrEmpty returns attribute value or an empty string if not present.
func (n *Node) GetAttributeOrEmpty(name string) string {
	return n.attrs[name]
}

// AppendText appends character data to node text.
func (n *Node) AppendText(text string) {
	n.text += text
}

// AddChild attaches child as the last node child.
func (n *Node) AddChild(child *Node) *Node {
	child.parent = n
	n.children = append(n.children, child)
	return child
}

// FindFirstChild returns the first node matching a '/' separated element path.
// If recursive is true the whole subtree is searched for the path.
func (n *Node) FindFirstChild(path string, recursive bool) *Node {
	var res []*Node
	n.findChildren(path, recursive, true, &res)
	if len(res) == 0 {
		return nil
	}
	return res[0]
}

// FindChildren returns all nodes matching a '/' separated element path in document order.
// If recursive is true the whole subtree is searched for the path.
func (n *Node) FindChildren(path string, recursive bool) []*Node {
	var res []*Node
	n.findChildren(path, recursive, false, &res)
	return res
}

func (n *Node) findChildren(path string, recursive, firstOnly bool, res *[]*Node) {
	name, rest, _ := strings.Cut(path, pathSeparator)

	for _, child := range n.children {
		if child.name == name {
			if len(rest) == 0 {
				*res = append(*res, child)
				if firstOnly {
					return
				}
				continue
			}
			child.findChildren(rest, false, firstOnly, res)
			if firstOnly && len(*res) > 0 {
				return
			}
		}
		if recursive {
			child.findChildren(path, true, firstOnly, res)
			if firstOnly && len(*res) > 0 {
				return
			}
		}
	}
}

// String returns a diagnostic representation of the node.
// Text and attribute values are not escaped.
func (n *Node) String() string {
	var sb strings.Builder
	n.writeTo(&sb)
	return sb.String()
}

func (n *Node) writeTo(sb *strings.Builder) {
	sb.WriteString("<")
	sb.WriteString(n.name)

	keys := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(n.attrs[k])
		sb.WriteString(`"`)
	}
	if len(n.text) == 0 && len(n.children) == 0 {
		sb.WriteString("/>")
		return
	}
	sb.WriteString(">")
	sb.WriteString(n.text)
	for _, child := range n.children {
		child.writeTo(sb)
	}
	sb.WriteString("</")
	sb.WriteString(n.name)
	sb.WriteString(">")
}
