package chunker

import "fmt"

// Params configures the content-defined chunker (spec §4.3). Zero-value
// Params is invalid; use DefaultParams() then override selectively.
type Params struct {
	MinChunk      int // default 16 KiB
	AvgChunk      int // default 64 KiB
	MaxChunk      int // default 256 KiB
	Normalization int // 0-3; higher clusters cuts more tightly around AvgChunk
}

// DefaultParams returns the defaults named in spec §4.3.
func DefaultParams() Params {
	return Params{
		MinChunk:      16 << 10,
		AvgChunk:      64 << 10,
		MaxChunk:      256 << 10,
		Normalization: 2,
	}
}

// Validate rejects parameter combinations that cannot produce a legal cut
// sequence (spec §4.3's "min_chunk <= len <= max_chunk" invariant).
func (p Params) Validate() error {
	if p.MinChunk <= 0 || p.AvgChunk <= 0 || p.MaxChunk <= 0 {
		return fmt.Errorf("chunker: sizes must be positive (min=%d avg=%d max=%d)", p.MinChunk, p.AvgChunk, p.MaxChunk)
	}
	if !(p.MinChunk <= p.AvgChunk && p.AvgChunk <= p.MaxChunk) {
		return fmt.Errorf("chunker: require min <= avg <= max (min=%d avg=%d max=%d)", p.MinChunk, p.AvgChunk, p.MaxChunk)
	}
	if p.Normalization < 0 || p.Normalization > 3 {
		return fmt.Errorf("chunker: normalization must be 0-3, got %d", p.Normalization)
	}
	return nil
}

// maskBits returns the number of trailing zero bits required of the rolling
// fingerprint to trigger a cut, for chunk lengths below/above AvgChunk.
// Higher Normalization widens the gap between the two, clustering cuts more
// tightly around AvgChunk (spec §4.3).
func (p Params) maskBits() (small, large uint) {
	bits := uint(0)
	for v := p.AvgChunk; v > 1; v >>= 1 {
		bits++
	}
	n := uint(p.Normalization)
	small = bits + n
	large = bits - n
	if large < 4 {
		large = 4
	}
	return small, large
}

func maskOf(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}
