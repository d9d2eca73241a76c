package permission

// Mask64 is a set of up to 64 permission bits. The highest bit is the root bit when
// a registry reserves it.
type Mask64 uint64

const rootBit64 = 63

func (m Mask64) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	if rootReserved && m&(1<<rootBit64) != 0 {
		return true
	}
	return m&(1<<bit) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m |= 1 << bit
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= 64 {
		return
	}
	*m &^= 1 << bit
}

// Union returns m | o.
func (m Mask64) Union(o Mask64) Mask64 {
	return m | o
}
