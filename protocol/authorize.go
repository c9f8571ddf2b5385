package protocol

import (
	"fmt"

	"github.com/openwebnode/dwn/derrors"
)

// RecordMeta is the slice of an accepted record that authorization needs:
// where it sits in the structure tree and who its parties are.
type RecordMeta struct {
	Path      string
	Author    string
	Recipient string
}

// Authorize decides whether actor may perform action on a record at path.
//
// chain lists the record's context from the root record down to the record
// itself; `of`-scoped rules are resolved against it. The node owner is not
// special-cased here; owner short-circuits belong to the caller.
func (d *Definition) Authorize(path, action, actor string, chain []RecordMeta) error {
	node := d.FindRuleSet(path)
	if node == nil {
		return derrors.New(derrors.KindValidation, "DWN-PROT-121", fmt.Sprintf("protocol path %q is not declared", path))
	}

	metaFor := func(scope string) *RecordMeta {
		for i := range chain {
			if chain[i].Path == scope {
				return &chain[i]
			}
		}
		return nil
	}

	for _, rule := range node.Actions {
		if rule.Can != action {
			continue
		}
		switch rule.Who {
		case WhoAnyone:
			return nil
		case WhoAuthor, WhoRecipient:
			scope := rule.Of
			if scope == "" {
				scope = path
			}
			meta := metaFor(scope)
			if meta == nil {
				continue
			}
			party := meta.Author
			if rule.Who == WhoRecipient {
				party = meta.Recipient
			}
			if party != "" && party == actor {
				return nil
			}
		}
	}
	return derrors.New(derrors.KindAuthorize, "DWN-AUTHZ-001",
		fmt.Sprintf("%s not permitted for %q at %q", action, actor, path))
}
