package model

import "maps"

// Record is one row keyed by column name. Included relations appear under
// their relation name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}
