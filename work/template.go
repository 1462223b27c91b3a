package work

import (
	"github.com/CADMonkey21/dlt-miner-go/hashengine"
)

// WorkTemplate is everything a lane needs to search one block's nonce space.
// It is never mutated after it has been handed to the miner; new work always
// arrives as a new template with a new ID.
type WorkTemplate struct {
	ID          uint64
	H           [8]uint32
	MidstateLen uint64
	PrefixTail  []byte
	Suffix      []byte
	DiffBits    int
	JobID       string

	// Height is informational, used in status lines.
	Height int64
}

// BatchParams exposes the template in the form the hash engine consumes.
func (t *WorkTemplate) BatchParams() *hashengine.BatchParams {
	return &hashengine.BatchParams{
		H:           t.H,
		MidstateLen: t.MidstateLen,
		PrefixTail:  t.PrefixTail,
		Suffix:      t.Suffix,
		DiffBits:    t.DiffBits,
	}
}

// Solution is a nonce found for the template with the given ID.
type Solution struct {
	TemplateID uint64
	Nonce      int64
	Hash       string
}
