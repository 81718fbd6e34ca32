package crawler

// Merge combines the search columns of p with a normalized enrichment. The
// search half is copied as is; enrichment only fills its own columns.
func Merge(p PartialRecord, e Enrichment) Record {
	return Record{SearchFields: p.SearchFields, Enrichment: e}
}
