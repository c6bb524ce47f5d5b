package mmio

import "fmt"

// ReadToSmaller returns a read method splitting a T-sized read into two
// reads of the half-sized registers at highAddr and lowAddr. The cells are
// resolved now, but their methods are looked up at each access: re-arming
// them later is taken into account.
func ReadToSmaller[T, ST Width, C any](m *Mapping[C], highAddr, lowAddr uint32) ReadMethod[C, T] {
	mustHalf[T, ST]()
	hi := ReadHandlerFor[ST](m, highAddr)
	lo := ReadHandlerFor[ST](m, lowAddr)
	shift := bitsOf[ST]()

	return ComplexRead(func(ctx C, _ uint32) T {
		return T(hi.Read(ctx, highAddr))<<shift | T(lo.Read(ctx, lowAddr))
	})
}

// WriteToSmaller returns a write method splitting a T-sized write into two
// writes to the half-sized registers at highAddr and lowAddr, high part
// first.
func WriteToSmaller[T, ST Width, C any](m *Mapping[C], highAddr, lowAddr uint32) WriteMethod[C, T] {
	mustHalf[T, ST]()
	hi := WriteHandlerFor[ST](m, highAddr)
	lo := WriteHandlerFor[ST](m, lowAddr)
	shift := bitsOf[ST]()

	return ComplexWrite(func(ctx C, _ uint32, val T) {
		hi.Write(ctx, highAddr, ST(val>>shift))
		lo.Write(ctx, lowAddr, ST(val))
	})
}

// ReadToLarger returns a read method reading the LT-sized register at
// largerAddr, shifting the result right by shift and truncating it to T.
func ReadToLarger[T, LT Width, C any](m *Mapping[C], largerAddr uint32, shift uint) ReadMethod[C, T] {
	if sizeOf[LT]() <= sizeOf[T]() {
		panic(fmt.Sprintf("mmio: ReadToLarger from %d to %d bits", bitsOf[T](), bitsOf[LT]()))
	}
	large := ReadHandlerFor[LT](m, largerAddr)

	return ComplexRead(func(ctx C, _ uint32) T {
		return T(large.Read(ctx, largerAddr) >> shift)
	})
}

func mustHalf[T, ST Width]() {
	if 2*sizeOf[ST]() != sizeOf[T]() {
		panic(fmt.Sprintf("mmio: can't split %d bits accesses into %d bits ones", bitsOf[T](), bitsOf[ST]()))
	}
}
