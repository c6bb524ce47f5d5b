package mmio

import "fmt"

const (
	NumBits  = NumMMIOs           // one bit per MMIO unique id
	wordSize = 64                 // using 64-bit words
	numWords = NumBits / wordSize // 2048 words exactly
)

// Bitset is a set of MMIO unique ids. Zero value is an empty set (all bits
// cleared).
type Bitset struct {
	words [numWords]uint64
}

// Test returns true if the bit at index i is set.
func (b *Bitset) Test(i uint) bool {
	return (b.words[i/wordSize] & (1 << (i % wordSize))) != 0
}

// SetRange sets all bits in the half-open interval [start, end).
// It panics if start >= end or end > NumBits.
func (b *Bitset) SetRange(start, end uint) {
	if start >= end || end > NumBits {
		panic(fmt.Sprintf("invalid range [%d, %d)", start, end))
	}
	startWord := start / wordSize
	endWord := (end - 1) / wordSize
	startBit := start % wordSize
	endBit := (end - 1) % wordSize

	if startWord == endWord {
		b.words[startWord] |= ((uint64(1) << (endBit - startBit + 1)) - 1) << startBit
		return
	}

	// First word.
	b.words[startWord] |= ^uint64(0) << startBit

	// Middle full words.
	for i := startWord + 1; i < endWord; i++ {
		b.words[i] = ^uint64(0)
	}

	// Last word.
	b.words[endWord] |= (uint64(1) << (endBit + 1)) - 1
}
