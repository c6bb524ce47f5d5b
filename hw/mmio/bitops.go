package mmio

// SetBits sets or clears the bits of mask in v.
func SetBits[T Width](v *T, mask T, set bool) {
	if set {
		*v |= mask
	} else {
		*v &^= mask
	}
}
