package reconcile

import (
	"github.com/clinicdesk/frontdesk/internal/platform/textnorm"
)

// ExclusiveFamily describes catalog records of which at most one may be
// selected at a time. Members share Group and Detail; the subgroup field
// discriminates between the NewValue and FollowUpValue variants.
type ExclusiveFamily struct {
	GroupField    int
	SubgroupField int
	DetailField   int

	Group         string
	Detail        string
	NewValue      string
	FollowUpValue string
}

// Members returns the ids of catalog records that belong to the family.
func (f ExclusiveFamily) Members(catalog []Record) []string {
	var ids []string
	for _, rec := range catalog {
		if f.isMember(rec) {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Variant returns the id of the family member matching the visit type, or ""
// when the catalog has no such member.
func (f ExclusiveFamily) Variant(catalog []Record, followUp bool) string {
	want := textnorm.Key(f.NewValue)
	if followUp {
		want = textnorm.Key(f.FollowUpValue)
	}
	for _, rec := range catalog {
		if f.isMember(rec) && textnorm.Key(rec.Field(f.SubgroupField)) == want {
			return rec.ID
		}
	}
	return ""
}

// Apply leaves at most one family member in sel: the variant for the visit
// type. Every other member is removed and the variant is merged in. Selections
// outside the family are not touched, and applying the rule twice is the same
// as applying it once.
func (f ExclusiveFamily) Apply(sel SelectionSet, catalog []Record, followUp bool) SelectionSet {
	chosen := f.Variant(catalog, followUp)
	var drop []string
	for _, id := range f.Members(catalog) {
		if id != chosen {
			drop = append(drop, id)
		}
	}
	out := sel.Without(drop...)
	if chosen != "" {
		out = out.Merge(chosen)
	}
	return out
}

func (f ExclusiveFamily) isMember(rec Record) bool {
	return textnorm.Key(rec.Field(f.GroupField)) == textnorm.Key(f.Group) &&
		textnorm.Key(rec.Field(f.DetailField)) == textnorm.Key(f.Detail)
}
