package legacy

import "sort"

// WorkItem is one partition table inside one attached file
type WorkItem struct {
	Alias     string
	Table     string
	VBucketID uint16
}

// String returns alias/table
func (w WorkItem) String() string {
	return w.Alias + "/" + w.Table
}

// Worklist holds the work items of a scan. Items are appended in ascending
// vbucket order and taken from the back, so the highest vbucket id is visited
// first and, within a vbucket, the last attached file is visited first.
type Worklist struct {
	items []WorkItem
}

// Plan builds the worklist for a catalog. When vbucketID is set only that
// partition table qualifies.
func Plan(c *Catalog, vbucketID *uint16) *Worklist {
	type partition struct {
		table string
		id    uint16
	}

	var parts []partition
	for table := range c.owners {
		if vbucketID != nil {
			if table == PartitionTableName(*vbucketID) {
				parts = append(parts, partition{table: table, id: *vbucketID})
			}
			continue
		}
		if id, ok := ParsePartitionTable(table); ok {
			parts = append(parts, partition{table: table, id: id})
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].id < parts[j].id })

	w := &Worklist{}
	for _, p := range parts {
		// owners are kept in attach order
		for _, alias := range c.Owners(p.table) {
			w.items = append(w.items, WorkItem{Alias: alias, Table: p.table, VBucketID: p.id})
		}
	}
	return w
}

// Pop removes and returns the next item to visit
func (w *Worklist) Pop() (WorkItem, bool) {
	if len(w.items) == 0 {
		return WorkItem{}, false
	}
	last := len(w.items) - 1
	item := w.items[last]
	w.items = w.items[:last]
	return item, true
}

// Len returns the number of items left
func (w *Worklist) Len() int {
	return len(w.items)
}

// Remaining returns the items left in visiting order
func (w *Worklist) Remaining() []WorkItem {
	out := make([]WorkItem, 0, len(w.items))
	for i := len(w.items) - 1; i >= 0; i-- {
		out = append(out, w.items[i])
	}
	return out
}
