package registry

import "fmt"

// Stats contains registry usage statistics.
type Stats struct {
	// Buffers and Images count live resources.
	Buffers int
	Images  int

	// UsedBytes is the budgeted memory in use, staging included.
	UsedBytes uint64

	// BudgetBytes is the configured budget, zero when uncapped.
	BudgetBytes uint64

	// Deferred counts released resources waiting on in-flight frames.
	Deferred int

	// Slots is the size of the slot table, including the reserved slot 0.
	Slots int
}

// String returns a human-readable string of registry stats.
func (s Stats) String() string {
	if s.BudgetBytes == 0 {
		return fmt.Sprintf("Registry[%d buffers, %d images, %d bytes, %d deferred]",
			s.Buffers, s.Images, s.UsedBytes, s.Deferred)
	}
	return fmt.Sprintf("Registry[%d buffers, %d images, %d/%d bytes, %d deferred]",
		s.Buffers, s.Images, s.UsedBytes, s.BudgetBytes, s.Deferred)
}

// Stats returns current usage statistics.
func (r *Registry) Stats() Stats {
	return Stats{
		Buffers:     r.buffers,
		Images:      r.images,
		UsedBytes:   r.used,
		BudgetBytes: r.cfg.MemoryBudget,
		Deferred:    len(r.graveyard),
		Slots:       len(r.slots),
	}
}
