package billing

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"
)

type catalogFile struct {
	Items []catalogEntry `yaml:"items"`
}

type catalogEntry struct {
	ID       string  `yaml:"id"`
	Group    string  `yaml:"group"`
	Subgroup string  `yaml:"subgroup"`
	Detail   string  `yaml:"detail"`
	Amount   float64 `yaml:"amount"`
	Active   *bool   `yaml:"active,omitempty"`
}

// LoadCatalogYAML parses a price list of the form
//
//	items:
//	  - id: B1
//	    group: Professional Fees
//	    subgroup: New
//	    detail: Professional Fees
//	    amount: 500
//
// Items keep file order as their sort order. Entries default to active.
func LoadCatalogYAML(r io.Reader) ([]*CatalogItem, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Items))
	items := make([]*CatalogItem, 0, len(f.Items))
	for i, e := range f.Items {
		id := strings.TrimSpace(e.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("catalog item %d: id is required", i+1)
		case seen[id]:
			return nil, fmt.Errorf("catalog item %d: duplicate id %s", i+1, id)
		case strings.TrimSpace(e.Group) == "":
			return nil, fmt.Errorf("catalog item %s: group is required", id)
		case strings.TrimSpace(e.Detail) == "":
			return nil, fmt.Errorf("catalog item %s: detail is required", id)
		case e.Amount < 0:
			return nil, fmt.Errorf("catalog item %s: amount must not be negative", id)
		}
		seen[id] = true

		active := true
		if e.Active != nil {
			active = *e.Active
		}
		items = append(items, &CatalogItem{
			ID:           id,
			GroupName:    strings.TrimSpace(e.Group),
			SubgroupName: strings.TrimSpace(e.Subgroup),
			DetailName:   strings.TrimSpace(e.Detail),
			Amount:       e.Amount,
			Active:       active,
			SortOrder:    i + 1,
		})
	}
	return items, nil
}
