// Copyright 2025 Kadir Pekel
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

package runner

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

// agentTree is the ownership tree of an app's agents, built once.
type agentTree struct {
	root  *treeNode
	nodes map[string]*treeNode
}

type treeNode struct {
	agent  agent.Agent
	parent *treeNode
}

// Transferable is implemented by agents a later turn may be handed to
// directly. Every agent on the path to the root must allow it.
type Transferable interface {
	AllowsTransfer() bool
}

func buildAgentTree(root agent.Agent) (*agentTree, error) {
	if root == nil {
		return nil, fmt.Errorf("root agent is required")
	}
	t := &agentTree{nodes: make(map[string]*treeNode)}
	var add func(ag agent.Agent, parent *treeNode) (*treeNode, error)
	add = func(ag agent.Agent, parent *treeNode) (*treeNode, error) {
		name := ag.Name()
		if strings.Contains(name, ".") {
			return nil, fmt.Errorf("agent name %q must not contain '.'", name)
		}
		if _, exists := t.nodes[name]; exists {
			return nil, fmt.Errorf("duplicate agent name in tree: %s", name)
		}
		n := &treeNode{agent: ag, parent: parent}
		t.nodes[name] = n
		for _, sub := range ag.SubAgents() {
			if _, err := add(sub, n); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
	rootNode, err := add(root, nil)
	if err != nil {
		return nil, err
	}
	t.root = rootNode
	return t, nil
}

func (t *agentTree) lookup(name string) *treeNode {
	return t.nodes[name]
}

// transferable reports whether n and all its ancestors accept a direct
// hand-over.
func (t *agentTree) transferable(n *treeNode) bool {
	for cur := n; cur != nil; cur = cur.parent {
		tr, ok := cur.agent.(Transferable)
		if !ok || !tr.AllowsTransfer() {
			return false
		}
	}
	return true
}

// path returns the names from the root down to n.
func (n *treeNode) path() []string {
	var names []string
	for cur := n; cur != nil; cur = cur.parent {
		names = append([]string{cur.agent.Name()}, names...)
	}
	return names
}
