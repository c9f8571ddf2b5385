// Package protocol implements declarative protocol definition documents:
// the schema and authorization rules every record write is checked against.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/derrors"
)

const (
	WhoAnyone    = "anyone"
	WhoAuthor    = "author"
	WhoRecipient = "recipient"

	ActionRead  = "read"
	ActionWrite = "write"
)

// Definition is a protocol definition document.
//
// Immutable once installed; identity is the CID of its canonical bytes.
type Definition struct {
	Protocol  string              `json:"protocol"`
	Published bool                `json:"published"`
	Types     map[string]Type     `json:"types"`
	Structure map[string]*RuleSet `json:"structure"`
}

// Type declares a record type: its schema URI and accepted data formats.
type Type struct {
	Schema      string   `json:"schema,omitempty"`
	DataFormats []string `json:"dataFormats,omitempty"`
}

// ActionRule grants `can` to `who`, optionally scoped by `of` to the author
// or recipient of an ancestor record on that protocol path.
type ActionRule struct {
	Who string `json:"who"`
	Of  string `json:"of,omitempty"`
	Can string `json:"can"`
}

// RuleSet is one node of the structure tree: its $actions plus nested types.
type RuleSet struct {
	Actions  []ActionRule
	Children map[string]*RuleSet
}

func (r *RuleSet) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Actions = nil
	r.Children = nil
	for k, v := range raw {
		if k == "$actions" {
			if err := json.Unmarshal(v, &r.Actions); err != nil {
				return err
			}
			continue
		}
		child := new(RuleSet)
		if err := json.Unmarshal(v, child); err != nil {
			return err
		}
		if r.Children == nil {
			r.Children = map[string]*RuleSet{}
		}
		r.Children[k] = child
	}
	return nil
}

func (r *RuleSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Children)+1)
	if len(r.Actions) > 0 {
		m["$actions"] = r.Actions
	}
	for k, c := range r.Children {
		m[k] = c
	}
	return json.Marshal(m)
}

// Parse decodes and validates a protocol definition document.
func Parse(b []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, derrors.Wrap(derrors.KindParse, "DWN-PROT-001", "protocol definition is not valid JSON", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Canonical is the single canonicalization choke point for protocol
// definitions. All hashing and CID derivation MUST pass through it.
//
// Canonical bytes are the JSON re-marshalling of the parsed form: fixed field
// order, sorted object keys, no insignificant whitespace.
func (d *Definition) Canonical() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindCanonical, "DWN-PROT-002", "canonical marshal failed", err)
	}
	return b, nil
}

// CID returns the identity of the definition's canonical bytes.
func (d *Definition) CID() (cid.Cid, error) {
	b, err := d.Canonical()
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.MessageCID(b)
}

// FindRuleSet returns the structure node for a protocol path like
// "list/todo", or nil when the path is not declared.
func (d *Definition) FindRuleSet(path string) *RuleSet {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil
	}
	node, ok := d.Structure[segments[0]]
	if !ok {
		return nil
	}
	for _, seg := range segments[1:] {
		node = node.Children[seg]
		if node == nil {
			return nil
		}
	}
	return node
}

// ParentPath returns the protocol path one level up, or "" for root paths.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// TypeName returns the record type a protocol path addresses (its last
// segment).
func TypeName(path string) string {
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}
