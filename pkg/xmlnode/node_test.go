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
	"testing"

	"github.com/stretchr/testify/require"
)

// <top>
//   <node1 id=1><node2 id=2><node3 id=3/></node2></node1>
//   <node2 id=4><node3 id=5/></node2>
//   <node3 id=6/>
//   <node2 id=7><node4 id=8><node3 id=9/></node4></node2>
// </top>
func testTree() *Node {
	el := func(name, id string) *Node {
		return New(name, map[string]string{"id": id})
	}
	top := New("top", nil)

	n1 := top.AddChild(el("node1", "1"))
	n2 := n1.AddChild(el("node2", "2"))
	n2.AddChild(el("node3", "3"))

	n4 := top.AddChild(el("node2", "4"))
	n4.AddChild(el("node3", "5"))

	top.AddChild(el("node3", "6"))

	n7 := top.AddChild(el("node2", "7"))
	n8 := n7.AddChild(el("node4", "8"))
	n8.AddChild(el("node3", "9"))
	return top
}

func ids(nodes []*Node) []string {
	var res []string
	for _, n := range nodes {
		res = append(res, n.GetAttributeOrEmpty("id"))
	}
	return res
}

func TestNode_FindChildren(t *testing.T) {
	var tests = []struct {
		name        string
		path        string
		recursive   bool
		expectedIDs []string
	}{
		{name: "DirectChildren", path: "node3", recursive: false, expectedIDs: []string{"6"}},
		{name: "Recursive", path: "node3", recursive: true, expectedIDs: []string{"3", "5", "6", "9"}},
		{name: "PathDirect", path: "node2/node3", recursive: false, expectedIDs: []string{"5"}},
		{name: "PathRecursive", path: "node2/node3", recursive: true, expectedIDs: []string{"3", "5"}},
		{name: "DeepPath", path: "node2/node4/node3", recursive: false, expectedIDs: []string{"9"}},
		{name: "NotFound", path: "node5", recursive: true, expectedIDs: nil},
		{name: "PartialPathNotFound", path: "node1/node3", recursive: false, expectedIDs: nil},
	}
	top := testTree()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedIDs, ids(top.FindChildren(tt.path, tt.recursive)))
		})
	}
}

func TestNode_FindFirstChild(t *testing.T) {
	top := testTree()

	n := top.FindFirstChild("node2/node3", false)
	require.NotNil(t, n)
	require.Equal(t, "5", n.GetAttributeOrEmpty("id"))

	n = top.FindFirstChild("node2/node3", true)
	require.NotNil(t, n)
	require.Equal(t, "3", n.GetAttributeOrEmpty("id"))

	n = top.FindFirstChild("node3", true)
	require.NotNil(t, n)
	require.Equal(t, "3", n.GetAttributeOrEmpty("id"))

	require.Nil(t, top.FindFirstChild("node4", false))
	require.Nil(t, top.FindFirstChild("", true))
}

func TestNode_Attributes(t *testing.T) {
	attrs := map[string]string{"type": "result", "id": "1"}
	n := New("iq", attrs)
	attrs["type"] = "error"

	v, ok := n.GetAttribute("type")
	require.True(t, ok)
	require.Equal(t, "result", v)

	_, ok = n.GetAttribute("to")
	require.False(t, ok)
	require.Equal(t, "", n.GetAttributeOrEmpty("to"))

	cp := n.Attributes()
	cp["id"] = "2"
	require.Equal(t, "1", n.GetAttributeOrEmpty("id"))
}

func TestNode_Parent(t *testing.T) {
	top := testTree()
	n := top.FindFirstChild("node2/node4/node3", false)
	require.NotNil(t, n)
	require.Equal(t, "node4", n.Parent().Name())
	require.Nil(t, top.Parent())
}

func TestNode_String(t *testing.T) {
	n := New("iq", map[string]string{"type": "result", "id": "1"})
	require.Equal(t, `<iq id="1" type="result"/>`, n.String())

	bind := n.AddChild(New("bind", map[string]string{"xmlns": "urn:ietf:params:xml:ns:xmpp-bind"}))
	jid := bind.AddChild(New("jid", nil))
	jid.AppendText("device@clouddevices")
	jid.AppendText(".gserviceaccount.com/res")

	require.Equal(t,
		`<iq id="1" type="result"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><jid>device@clouddevices.gserviceaccount.com/res</jid></bind></iq>`,
		n.String(),
	)

	txt := New("data", nil)
	txt.AppendText("a<b")
	require.Equal(t, `<data>a<b</data>`, txt.String())
}
