// Package entropy provides the seedable random streams every replication owns.
// A Stream is never shared: each replication builds its own from its seed, so
// trajectories are reproducible and replications can run in parallel.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"strings"
)

// Algorithm selects the bit generator behind a Stream.
type Algorithm uint8

const (
	// MT19937 is the 32-bit Mersenne Twister, seeded and consumed the same way
	// as the C reference model (init_genrand, u32/2^32 uniforms, u32%n integers).
	MT19937 Algorithm = iota
	// PCG is the math/rand/v2 permuted congruential generator.
	PCG
)

// pcgIncrement decorrelates the second PCG word from the seed.
const pcgIncrement = 0xda3e39cb94b95bdb

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case MT19937:
		return "mt19937"
	case PCG:
		return "pcg"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mt19937", "mt":
		return MT19937, nil
	case "pcg":
		return PCG, nil
	default:
		return 0, fmt.Errorf("unknown rng algorithm %q", name)
	}
}

type source interface {
	Float64() float64
	IntN(n int) int
}

var (
	_ source = (*Twister)(nil)
	_ source = (*mrand.Rand)(nil)
)

// MaxSeed is the largest seed a Stream accepts. MT19937 is seeded from 32
// bits, so larger or negative seeds would alias other seeds' sequences.
const MaxSeed = math.MaxUint32

// Stream is a deterministic source of uniform and derived samples.
type Stream struct {
	alg  Algorithm
	seed int64
	src  source
}

// New creates a stream for the given algorithm, already seeded. The seed
// must lie in [0, MaxSeed].
func New(alg Algorithm, seed int64) (*Stream, error) {
	if alg != MT19937 && alg != PCG {
		return nil, fmt.Errorf("unknown rng algorithm %d", alg)
	}
	if err := CheckSeed(seed); err != nil {
		return nil, err
	}
	s := &Stream{alg: alg}
	s.Reseed(seed)
	return s, nil
}

// CheckSeed reports whether seed lies in [0, MaxSeed].
func CheckSeed(seed int64) error {
	if seed < 0 || seed > MaxSeed {
		return fmt.Errorf("seed %d outside [0, %d]", seed, int64(MaxSeed))
	}
	return nil
}

// Reseed resets the stream; the sequence that follows depends only on seed.
// Under MT19937 only the low 32 bits are used, so callers keep seeds within
// [0, MaxSeed] (see CheckSeed).
func (s *Stream) Reseed(seed int64) {
	s.seed = seed
	switch s.alg {
	case PCG:
		s.src = mrand.New(mrand.NewPCG(uint64(seed), uint64(seed)^pcgIncrement))
	default:
		s.src = NewTwister(uint32(seed))
	}
}

// Seed returns the seed the stream was last reset with.
func (s *Stream) Seed() int64 { return s.seed }

// Algorithm returns the generator behind the stream.
func (s *Stream) Algorithm() Algorithm { return s.alg }

// Uniform returns a float64 in [0, 1).
func (s *Stream) Uniform() float64 {
	return s.src.Float64()
}

// IntN returns an int in [0, n). n must be positive.
func (s *Stream) IntN(n int) int {
	return s.src.IntN(n)
}

// NegExponential draws from an exponential distribution with the given mean
// by inverting its CDF. A uniform of exactly zero is redrawn so the result is
// always strictly positive.
func (s *Stream) NegExponential(mean float64) float64 {
	u := s.Uniform()
	for u == 0 {
		u = s.Uniform()
	}
	return -mean * math.Log(1.0-u)
}

// Shuffle permutes order in place (Fisher-Yates, from the back).
func (s *Stream) Shuffle(order []int) {
	for i := len(order) - 1; i > 0; i-- {
		j := s.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
}

// CryptoSeed returns a positive seed from crypto/rand. Used when a run is
// started without an explicit seed; callers log it so the run can be replayed.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 33)
	if seed == 0 {
		seed = 1
	}
	return seed
}
