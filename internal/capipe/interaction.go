package capipe

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// interactionNode is one node of the interaction tree with member order
// preserved, since the root-cause walk visits children in declared order.
type interactionNode struct {
	keys   []string
	values map[string]json.RawMessage
}

// parseNode decodes a JSON object keeping the member order the document
// declared. Non-object input is an error.
func parseNode(raw json.RawMessage) (*interactionNode, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("interaction node is not an object")
	}

	node := &interactionNode{values: make(map[string]json.RawMessage)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if _, seen := node.values[key]; !seen {
			node.keys = append(node.keys, key)
		}
		node.values[key] = value
	}
	return node, nil
}

func (n *interactionNode) member(key string) (json.RawMessage, bool) {
	v, ok := n.values[key]
	return v, ok
}

func (n *interactionNode) stringMember(key string) string {
	if v, ok := n.values[key]; ok {
		return rawString(v)
	}
	return ""
}

func (n *interactionNode) grade() string {
	return n.stringMember("HappinessGrade")
}

// operationID returns the node's OperationID detail property, accepting
// either capitalization.
func (n *interactionNode) operationID() string {
	if id := n.stringMember("OperationID"); id != "" {
		return id
	}
	return n.stringMember("OperationId")
}

// isInteraction reports whether an object member is itself an interaction
// node: it carries both HappinessGrade and TimeInteractionRecorded.
func (n *interactionNode) isInteraction() bool {
	_, hasGrade := n.values["HappinessGrade"]
	_, hasRecorded := n.values["TimeInteractionRecorded"]
	return hasGrade && hasRecorded
}

// children returns the node's sub-interactions in declared order: the
// members of its Components array when present, otherwise every object
// member that looks like an interaction node.
func (n *interactionNode) children() []*interactionNode {
	if comps, ok := n.values["Components"]; ok {
		var entries []json.RawMessage
		if err := json.Unmarshal(comps, &entries); err == nil {
			children := make([]*interactionNode, 0, len(entries))
			for _, entry := range entries {
				child, err := parseNode(entry)
				if err != nil {
					continue
				}
				children = append(children, child)
			}
			return children
		}
	}

	var children []*interactionNode
	for _, key := range n.keys {
		child, err := parseNode(n.values[key])
		if err != nil {
			continue
		}
		if child.isInteraction() {
			children = append(children, child)
		}
	}
	return children
}

// rootCause finds the deepest pre-order descendant whose happiness grade
// equals grade, or nil when the node itself does not match.
func rootCause(node *interactionNode, grade string) *interactionNode {
	if node.grade() != grade {
		return nil
	}
	for _, child := range node.children() {
		if cause := rootCause(child, grade); cause != nil {
			return cause
		}
	}
	return node
}
