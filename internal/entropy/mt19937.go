package entropy

const (
	mtN       = 624
	mtM       = 397
	matrixA   = 0x9908b0df
	upperMask = 0x80000000
	lowerMask = 0x7fffffff
)

// Twister is the 32-bit Mersenne Twister, MT19937 (Matsumoto & Nishimura, 1998).
type Twister struct {
	state [mtN]uint32
	idx   int
}

// NewTwister returns a generator seeded like init_genrand(seed).
func NewTwister(seed uint32) *Twister {
	m := &Twister{}
	m.Seed(seed)
	return m
}

// Seed reinitialises the state vector.
func (m *Twister) Seed(seed uint32) {
	m.state[0] = seed
	for i := 1; i < mtN; i++ {
		prev := m.state[i-1]
		m.state[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	m.idx = mtN
}

// Uint32 returns the next tempered output.
func (m *Twister) Uint32() uint32 {
	if m.idx >= mtN {
		m.twist()
	}
	y := m.state[m.idx]
	m.idx++

	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Uint64 joins two consecutive outputs, high word first.
func (m *Twister) Uint64() uint64 {
	hi := uint64(m.Uint32())
	return hi<<32 | uint64(m.Uint32())
}

// Float64 returns u32 / 2^32, in [0, 1).
func (m *Twister) Float64() float64 {
	return float64(m.Uint32()) * (1.0 / 4294967296.0)
}

// IntN returns u32 mod n. The slight modulo bias is kept for parity with
// the reference outputs.
func (m *Twister) IntN(n int) int {
	return int(m.Uint32() % uint32(n))
}

func (m *Twister) twist() {
	for i := 0; i < mtN; i++ {
		y := (m.state[i] & upperMask) | (m.state[(i+1)%mtN] & lowerMask)
		next := m.state[(i+mtM)%mtN] ^ (y >> 1)
		if y&1 != 0 {
			next ^= matrixA
		}
		m.state[i] = next
	}
	m.idx = 0
}
