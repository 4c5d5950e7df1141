package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk/internal/platform/reconcile"
)

var ErrNotFound = errors.New("billing record not found")

// ProfessionalFees is the consultation charge family: one catalog line per
// visit type, and a visit is billed for exactly one of them.
var ProfessionalFees = reconcile.ExclusiveFamily{
	GroupField:    0,
	SubgroupField: 1,
	DetailField:   2,
	Group:         "Professional Fees",
	Detail:        "Professional Fees",
	NewValue:      "New",
	FollowUpValue: "Follow-up",
}

// CatalogItem is a chargeable line in the clinic's price list. ID is the
// catalog code, stable across imports.
type CatalogItem struct {
	ID           string    `db:"id" json:"id"`
	GroupName    string    `db:"group_name" json:"group"`
	SubgroupName string    `db:"subgroup_name" json:"subgroup"`
	DetailName   string    `db:"detail_name" json:"detail"`
	Amount       float64   `db:"amount" json:"amount"`
	Active       bool      `db:"active" json:"active"`
	SortOrder    int       `db:"sort_order" json:"sort_order"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (c *CatalogItem) Record() reconcile.Record {
	return reconcile.NewRecord(c.ID, c.GroupName, c.SubgroupName, c.DetailName)
}

// BilledItem is a charge already posted against a visit, usually by a
// different desk than the one preparing the bill. Its names are free text.
type BilledItem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	VisitID      string    `db:"visit_id" json:"visit_id"`
	GroupName    string    `db:"group_name" json:"group"`
	SubgroupName string    `db:"subgroup_name" json:"subgroup"`
	DetailName   string    `db:"detail_name" json:"detail"`
	Amount       float64   `db:"amount" json:"amount"`
	BilledAt     time.Time `db:"billed_at" json:"billed_at"`
}

func (b *BilledItem) Record() reconcile.Record {
	return reconcile.NewRecord(b.ID.String(), b.GroupName, b.SubgroupName, b.DetailName)
}

// PrepareRequest asks for a visit's selection to be brought up to date with
// what has been billed. FollowUp is nil when the visit type is not known yet.
type PrepareRequest struct {
	VisitID        string   `json:"visit_id"`
	FollowUp       *bool    `json:"follow_up,omitempty"`
	PreselectedIDs []string `json:"preselected_ids,omitempty"`
}

// Selection is a visit's chosen catalog lines as returned to the desk.
type Selection struct {
	VisitID     string                 `json:"visit_id"`
	Selected    reconcile.SelectionSet `json:"selected"`
	Items       []CatalogItem          `json:"items"`
	Matched     []string               `json:"matched"`
	Unmatched   []BilledItem           `json:"unmatched"`
	TotalAmount float64                `json:"total_amount"`
}

func catalogRecords(items []*CatalogItem) []reconcile.Record {
	out := make([]reconcile.Record, len(items))
	for i, it := range items {
		out[i] = it.Record()
	}
	return out
}

func billedRecords(items []*BilledItem) []reconcile.Record {
	out := make([]reconcile.Record, len(items))
	for i, it := range items {
		out[i] = it.Record()
	}
	return out
}
