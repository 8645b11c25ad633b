package catalogue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is one catalogue entry. FacetLabels holds the denormalized facet
// hierarchy labels that the wire format carries as "<facet>_name" keys.
type Record struct {
	ID          int64
	Name        string
	FacetLabels map[string]string
	Metadata    map[string]any
	CreatedAt   time.Time
	LastEdited  *time.Time
}

// FacetOption is one selectable value of a facet type.
type FacetOption struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SearchRequest carries one query-endpoint call's parameters.
type SearchRequest struct {
	Query     string
	Limit     int
	Offset    int
	SortField string
	SortOrder string
}

// SearchPage is one page of results plus the server-reported total.
type SearchPage struct {
	Records []Record
	Total   int
}

const facetLabelSuffix = "_name"

// recordWire mirrors the fixed part of the record JSON; facet labels ride as
// arbitrary top-level "*_name" keys and are handled separately.
type recordWire struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	LastEdited *time.Time     `json:"last_edited,omitempty"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	labels := make(map[string]string)
	for k, v := range raw {
		if !strings.HasSuffix(k, facetLabelSuffix) {
			continue
		}
		var label string
		if err := json.Unmarshal(v, &label); err != nil {
			return fmt.Errorf("facet label %s: %w", k, err)
		}
		if label != "" {
			labels[strings.TrimSuffix(k, facetLabelSuffix)] = label
		}
	}

	r.ID = w.ID
	r.Name = w.Name
	r.Metadata = w.Metadata
	r.CreatedAt = w.CreatedAt
	r.LastEdited = w.LastEdited
	if len(labels) > 0 {
		r.FacetLabels = labels
	} else {
		r.FacetLabels = nil
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"created_at": r.CreatedAt,
	}
	if r.Metadata != nil {
		out["metadata"] = r.Metadata
	}
	if r.LastEdited != nil {
		out["last_edited"] = r.LastEdited
	}
	for facet, label := range r.FacetLabels {
		out[facet+facetLabelSuffix] = label
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a results page keyed either "items" or "data";
// deployments differ and both exist in the wild.
func (p *SearchPage) UnmarshalJSON(data []byte) error {
	var w struct {
		Items []Record `json:"items"`
		Data  []Record `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Total = w.Total
	p.Records = w.Items
	if p.Records == nil {
		p.Records = w.Data
	}
	return nil
}

func (p SearchPage) MarshalJSON() ([]byte, error) {
	records := p.Records
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(map[string]any{
		"items": records,
		"total": p.Total,
	})
}
