package protocol

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/openwebnode/dwn/derrors"
)

// Rule is one validation rule with a stable ID.
type Rule struct {
	ID    string
	Apply func(d *Definition) error
}

func newValidation(ruleID, msg string) error {
	return derrors.New(derrors.KindValidation, ruleID, msg)
}

// Validate enforces the structural rules for a protocol definition.
// Rules are evaluated in a deterministic order and the first violation wins.
func (d *Definition) Validate() error {
	rules := []Rule{
		{ID: "DWN-PROT-101", Apply: checkProtocolURI},
		{ID: "DWN-PROT-102", Apply: checkTypesPresent},
		{ID: "DWN-PROT-103", Apply: checkTypeNames},
		{ID: "DWN-PROT-104", Apply: checkDataFormats},
		{ID: "DWN-PROT-105", Apply: checkStructurePresent},
		{ID: "DWN-PROT-111", Apply: checkStructureTypes},
		{ID: "DWN-PROT-112", Apply: checkActions},
	}
	for _, r := range rules {
		if r.ID == "" {
			return derrors.New(derrors.KindInternal, "DWN-PROT-901", "empty validation rule ID")
		}
		if err := r.Apply(d); err != nil {
			return err
		}
	}
	return nil
}

func checkProtocolURI(d *Definition) error {
	if d.Protocol == "" {
		return newValidation("DWN-PROT-101", "missing protocol URI")
	}
	u, err := url.Parse(d.Protocol)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return newValidation("DWN-PROT-101", fmt.Sprintf("protocol is not an absolute URI: %q", d.Protocol))
	}
	return nil
}

func checkTypesPresent(d *Definition) error {
	if len(d.Types) == 0 {
		return newValidation("DWN-PROT-102", "protocol declares no types")
	}
	return nil
}

func checkTypeNames(d *Definition) error {
	for _, name := range sortedTypeNames(d) {
		if name == "" || strings.ContainsAny(name, "/$") {
			return newValidation("DWN-PROT-103", fmt.Sprintf("invalid type name %q", name))
		}
	}
	return nil
}

func checkDataFormats(d *Definition) error {
	for _, name := range sortedTypeNames(d) {
		for _, f := range d.Types[name].DataFormats {
			if f == "" {
				return newValidation("DWN-PROT-104", fmt.Sprintf("type %q declares an empty data format", name))
			}
		}
	}
	return nil
}

func checkStructurePresent(d *Definition) error {
	if len(d.Structure) == 0 {
		return newValidation("DWN-PROT-105", "protocol declares no structure")
	}
	return nil
}

func checkStructureTypes(d *Definition) error {
	return walkStructure(d, func(path string, _ *RuleSet) error {
		if _, ok := d.Types[TypeName(path)]; !ok {
			return newValidation("DWN-PROT-111", fmt.Sprintf("structure path %q names an undeclared type", path))
		}
		return nil
	})
}

func checkActions(d *Definition) error {
	return walkStructure(d, func(path string, node *RuleSet) error {
		for _, a := range node.Actions {
			if a.Can != ActionRead && a.Can != ActionWrite {
				return newValidation("DWN-PROT-112", fmt.Sprintf("structure path %q: unknown action %q", path, a.Can))
			}
			switch a.Who {
			case WhoAnyone:
				if a.Of != "" {
					return newValidation("DWN-PROT-113", fmt.Sprintf("structure path %q: who=anyone must not be scoped by of", path))
				}
			case WhoAuthor, WhoRecipient:
				scope := a.Of
				if scope == "" {
					scope = path
				}
				if !isSelfOrAncestor(scope, path) {
					return newValidation("DWN-PROT-114", fmt.Sprintf("structure path %q: of=%q is not the path or an ancestor of it", path, a.Of))
				}
				if d.FindRuleSet(scope) == nil {
					return newValidation("DWN-PROT-115", fmt.Sprintf("structure path %q: of=%q is not a declared path", path, a.Of))
				}
			default:
				return newValidation("DWN-PROT-116", fmt.Sprintf("structure path %q: unknown actor %q", path, a.Who))
			}
		}
		return nil
	})
}

// CheckRecord verifies that a record at path may carry schema/dataFormat
// under this definition.
func (d *Definition) CheckRecord(path, schema, dataFormat string) error {
	node := d.FindRuleSet(path)
	if node == nil {
		return newValidation("DWN-PROT-121", fmt.Sprintf("protocol path %q is not declared", path))
	}
	typ, ok := d.Types[TypeName(path)]
	if !ok {
		return newValidation("DWN-PROT-111", fmt.Sprintf("structure path %q names an undeclared type", path))
	}
	if typ.Schema != "" && schema != typ.Schema {
		return newValidation("DWN-PROT-122", fmt.Sprintf("schema %q does not match declared schema %q", schema, typ.Schema))
	}
	if len(typ.DataFormats) > 0 {
		found := false
		for _, f := range typ.DataFormats {
			if f == dataFormat {
				found = true
				break
			}
		}
		if !found {
			return newValidation("DWN-PROT-123", fmt.Sprintf("data format %q is not accepted for type %q", dataFormat, TypeName(path)))
		}
	}
	return nil
}

func isSelfOrAncestor(candidate, path string) bool {
	return candidate == path || strings.HasPrefix(path, candidate+"/")
}

func sortedTypeNames(d *Definition) []string {
	names := make([]string, 0, len(d.Types))
	for name := range d.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// walkStructure visits structure nodes depth-first in sorted-key order so
// validation failures are deterministic.
func walkStructure(d *Definition, visit func(path string, node *RuleSet) error) error {
	var walk func(prefix string, nodes map[string]*RuleSet) error
	walk = func(prefix string, nodes map[string]*RuleSet) error {
		names := make([]string, 0, len(nodes))
		for name := range nodes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			path := name
			if prefix != "" {
				path = prefix + "/" + name
			}
			if err := visit(path, nodes[name]); err != nil {
				return err
			}
			if err := walk(path, nodes[name].Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk("", d.Structure)
}
