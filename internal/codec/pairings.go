package codec

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Pairing associates one tag with a set of taggables.
type Pairing struct {
	Tag       uint64
	Taggables []uint64
}

// Pairings is an ordered tag → taggables mapping. Order is preserved on
// the wire, so callers control the record order the engine sees.
type Pairings []Pairing

// Tags returns the tag of every pairing in order.
func (p Pairings) Tags() []uint64 {
	tags := make([]uint64, len(p))
	for i, pairing := range p {
		tags[i] = pairing.Tag
	}
	return tags
}

// Taggables returns the distinct taggables referenced by p in ascending order.
func (p Pairings) Taggables() []uint64 {
	set := roaring64.New()
	for _, pairing := range p {
		set.AddMany(pairing.Taggables)
	}
	return set.ToArray()
}

// Len returns the total number of (tag, taggable) pairs.
func (p Pairings) Len() int {
	n := 0
	for _, pairing := range p {
		n += len(pairing.Taggables)
	}
	return n
}

// Lookup returns the taggables for tag, or false when tag is absent.
func (p Pairings) Lookup(tag uint64) ([]uint64, bool) {
	for _, pairing := range p {
		if pairing.Tag == tag {
			return pairing.Taggables, true
		}
	}
	return nil, false
}

// Invert regroups p by taggable: the result maps each taggable to the tags
// that reference it. Groups appear in order of first occurrence.
func (p Pairings) Invert() Pairings {
	index := make(map[uint64]int)
	var out Pairings
	for _, pairing := range p {
		for _, taggable := range pairing.Taggables {
			i, ok := index[taggable]
			if !ok {
				i = len(out)
				index[taggable] = i
				out = append(out, Pairing{Tag: taggable})
			}
			out[i].Taggables = append(out[i].Taggables, pairing.Tag)
		}
	}
	return out
}
