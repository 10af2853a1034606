package optimizer

// Batch is a run of consecutive documents whose combined size fits the cap.
// An Oversized batch holds exactly one document larger than the cap.
type Batch struct {
	Indexes   []int
	Documents [][]byte
	Size      int
	Oversized bool
}

// Batch packs documents greedily in input order: a new batch starts when the
// next document would push the current one past the cap. Documents are not
// reordered.
func (o *Optimizer) Batch(docs [][]byte) []Batch {
	var (
		out []Batch
		cur Batch
	)
	flush := func() {
		if len(cur.Documents) > 0 {
			out = append(out, cur)
		}
		cur = Batch{}
	}
	for i, d := range docs {
		if len(d) > o.maxSize {
			flush()
			out = append(out, Batch{Indexes: []int{i}, Documents: [][]byte{d}, Size: len(d), Oversized: true})
			continue
		}
		if cur.Size+len(d) > o.maxSize {
			flush()
		}
		cur.Indexes = append(cur.Indexes, i)
		cur.Documents = append(cur.Documents, d)
		cur.Size += len(d)
	}
	flush()
	return out
}
