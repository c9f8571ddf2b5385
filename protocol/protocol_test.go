package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openwebnode/dwn/derrors"
)

const sharedTodoDef = `{
  "protocol": "https://didcomm.org/shared-todo",
  "published": true,
  "types": {
    "list": {
      "schema": "https://didcomm.org/shared-todo/schemas/list.json",
      "dataFormats": ["application/json"]
    },
    "todo": {
      "schema": "https://didcomm.org/shared-todo/schemas/todo.json",
      "dataFormats": ["application/json"]
    }
  },
  "structure": {
    "list": {
      "$actions": [
        {"who": "anyone", "can": "write"},
        {"who": "author", "of": "list", "can": "read"},
        {"who": "recipient", "of": "list", "can": "read"}
      ],
      "todo": {
        "$actions": [
          {"who": "author", "of": "list", "can": "read"},
          {"who": "recipient", "of": "list", "can": "read"},
          {"who": "author", "of": "list", "can": "write"},
          {"who": "recipient", "of": "list", "can": "write"}
        ]
      }
    }
  }
}`

func parseSharedTodo(t *testing.T) *Definition {
	t.Helper()
	d, err := Parse([]byte(sharedTodoDef))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

func TestParseSharedTodo(t *testing.T) {
	d := parseSharedTodo(t)
	if d.Protocol != "https://didcomm.org/shared-todo" {
		t.Fatalf("protocol: %q", d.Protocol)
	}
	if !d.Published {
		t.Fatalf("published should be true")
	}
	if d.FindRuleSet("list") == nil || d.FindRuleSet("list/todo") == nil {
		t.Fatalf("structure paths missing")
	}
	if d.FindRuleSet("todo") != nil || d.FindRuleSet("list/todo/x") != nil {
		t.Fatalf("FindRuleSet matched undeclared paths")
	}
	if got := len(d.FindRuleSet("list/todo").Actions); got != 4 {
		t.Fatalf("list/todo actions: got %d", got)
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	d := parseSharedTodo(t)
	a, err := d.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}

	// Same document with shuffled key order and whitespace.
	reordered := `{
  "structure": {"list": {"todo": {"$actions": [
        {"can": "read", "of": "list", "who": "author"},
        {"can": "read", "of": "list", "who": "recipient"},
        {"can": "write", "of": "list", "who": "author"},
        {"can": "write", "of": "list", "who": "recipient"}]},
      "$actions": [
        {"can": "write", "who": "anyone"},
        {"can": "read", "of": "list", "who": "author"},
        {"can": "read", "of": "list", "who": "recipient"}]}},
  "types": {
    "todo": {"dataFormats": ["application/json"], "schema": "https://didcomm.org/shared-todo/schemas/todo.json"},
    "list": {"dataFormats": ["application/json"], "schema": "https://didcomm.org/shared-todo/schemas/list.json"}
  },
  "published": true,
  "protocol": "https://didcomm.org/shared-todo"
}`
	d2, err := Parse([]byte(reordered))
	if err != nil {
		t.Fatalf("Parse reordered: %v", err)
	}
	b, err := d2.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("canonical bytes differ:\n%s\n%s", a, b)
	}

	ca, err := d.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	cb, err := d2.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if ca != cb {
		t.Fatalf("CIDs differ for equivalent definitions")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d *Definition)
		ruleID string
	}{
		{"missing protocol", func(d *Definition) { d.Protocol = "" }, "DWN-PROT-101"},
		{"relative protocol", func(d *Definition) { d.Protocol = "shared-todo" }, "DWN-PROT-101"},
		{"no types", func(d *Definition) { d.Types = nil }, "DWN-PROT-102"},
		{"no structure", func(d *Definition) { d.Structure = nil }, "DWN-PROT-105"},
		{"undeclared structure type", func(d *Definition) {
			d.Structure["note"] = &RuleSet{Actions: []ActionRule{{Who: "anyone", Can: "write"}}}
		}, "DWN-PROT-111"},
		{"unknown action", func(d *Definition) {
			d.Structure["list"].Actions[0].Can = "append"
		}, "DWN-PROT-112"},
		{"anyone with of", func(d *Definition) {
			d.Structure["list"].Actions[0].Of = "list"
		}, "DWN-PROT-113"},
		{"of not ancestor", func(d *Definition) {
			d.Structure["list"].Actions[1].Of = "list/todo"
		}, "DWN-PROT-114"},
		{"unknown who", func(d *Definition) {
			d.Structure["list"].Actions[0].Who = "owner"
		}, "DWN-PROT-116"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := parseSharedTodo(t)
			tc.mutate(d)
			err := d.Validate()
			if err == nil {
				t.Fatalf("Validate should fail")
			}
			if !derrors.IsKind(err, derrors.KindValidation) {
				t.Fatalf("expected validation kind, got %v", err)
			}
			if got := derrors.RuleID(err); got != tc.ruleID {
				t.Fatalf("rule id: got %s want %s (%v)", got, tc.ruleID, err)
			}
		})
	}
}

func TestCheckRecord(t *testing.T) {
	d := parseSharedTodo(t)
	if err := d.CheckRecord("list/todo", "https://didcomm.org/shared-todo/schemas/todo.json", "application/json"); err != nil {
		t.Fatalf("CheckRecord: %v", err)
	}
	if err := d.CheckRecord("list/todo", "https://didcomm.org/shared-todo/schemas/list.json", "application/json"); derrors.RuleID(err) != "DWN-PROT-122" {
		t.Fatalf("schema mismatch: got %v", err)
	}
	if err := d.CheckRecord("list/todo", "https://didcomm.org/shared-todo/schemas/todo.json", "text/plain"); derrors.RuleID(err) != "DWN-PROT-123" {
		t.Fatalf("data format mismatch: got %v", err)
	}
	if err := d.CheckRecord("todo", "x", "application/json"); derrors.RuleID(err) != "DWN-PROT-121" {
		t.Fatalf("undeclared path: got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	d := parseSharedTodo(t)
	const (
		alice = "did:key:zAlice"
		bob   = "did:key:zBob"
		carol = "did:key:zCarol"
	)
	list := RecordMeta{Path: "list", Author: alice, Recipient: bob}

	// Anyone can create a list.
	if err := d.Authorize("list", ActionWrite, carol, []RecordMeta{{Path: "list", Author: carol}}); err != nil {
		t.Fatalf("anyone write list: %v", err)
	}

	// Author and recipient of the list can read it; a stranger cannot.
	if err := d.Authorize("list", ActionRead, alice, []RecordMeta{list}); err != nil {
		t.Fatalf("author read list: %v", err)
	}
	if err := d.Authorize("list", ActionRead, bob, []RecordMeta{list}); err != nil {
		t.Fatalf("recipient read list: %v", err)
	}
	if err := d.Authorize("list", ActionRead, carol, []RecordMeta{list}); err == nil {
		t.Fatalf("stranger read list should be denied")
	}

	// Both participants can write todos under the list; a stranger cannot.
	todoChain := func(author string) []RecordMeta {
		return []RecordMeta{list, {Path: "list/todo", Author: author}}
	}
	if err := d.Authorize("list/todo", ActionWrite, alice, todoChain(alice)); err != nil {
		t.Fatalf("list author write todo: %v", err)
	}
	if err := d.Authorize("list/todo", ActionWrite, bob, todoChain(bob)); err != nil {
		t.Fatalf("list recipient write todo: %v", err)
	}
	err := d.Authorize("list/todo", ActionWrite, carol, todoChain(carol))
	if err == nil {
		t.Fatalf("stranger write todo should be denied")
	}
	if !derrors.IsKind(err, derrors.KindAuthorize) {
		t.Fatalf("expected authorize kind, got %v", err)
	}
}

func TestPathHelpers(t *testing.T) {
	if ParentPath("list/todo") != "list" || ParentPath("list") != "" {
		t.Fatalf("ParentPath broken")
	}
	if TypeName("list/todo") != "todo" || TypeName("list") != "list" {
		t.Fatalf("TypeName broken")
	}
	if !strings.HasPrefix("list/todo", "list/") {
		t.Fatalf("sanity")
	}
}
