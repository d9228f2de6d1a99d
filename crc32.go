package zipflow

import "hash/crc32"

// CRC32 is a streaming CRC-32 accumulator over the IEEE polynomial.
//
// Besides the usual byte-at-a-time update it supports appending a checksum
// computed over a separate segment, so callers may hash independent segments
// in parallel and merge the results in order:
//
//	a := NewCRC32()
//	a.Write(segmentA)
//	a.Append(crcB, int64(len(segmentB)))
//	// a.Sum32() == crc32 of segmentA followed by segmentB
//
// The zero value is ready to use. CRC32 is not safe for concurrent use.
type CRC32 struct {
	crc uint32
}

// NewCRC32 returns a new accumulator with an empty-input checksum.
func NewCRC32() *CRC32 {
	return &CRC32{}
}

// Write folds p into the running checksum. It never returns an error.
func (c *CRC32) Write(p []byte) (int, error) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
	return len(p), nil
}

// Sum32 returns the current checksum.
func (c *CRC32) Sum32() uint32 {
	return c.crc
}

// Reset restores the accumulator to the empty-input checksum.
func (c *CRC32) Reset() {
	c.crc = 0
}

// Append replaces the current checksum with the checksum of the current input
// followed by a segment of n bytes whose own checksum is crc.
func (c *CRC32) Append(crc uint32, n int64) {
	c.crc = CRC32Combine(c.crc, crc, n)
}

// CRC32Combine returns the CRC-32 of the concatenation of two byte sequences
// given crc1 of the first, crc2 of the second and len2, the length of the
// second sequence in bytes.
//
// Appending n bytes to a sequence transforms its CRC linearly over GF(2), so
// the transform for len2 zero bytes is built by repeated matrix squaring and
// applied to crc1 in O(log len2).
func CRC32Combine(crc1, crc2 uint32, len2 int64) uint32 {
	if len2 <= 0 {
		return crc1
	}

	var even, odd crcMatrix

	// operator for one zero bit
	odd[0] = 0xedb88320 // CRC-32 polynomial, reflected
	row := uint32(1)
	for n := 1; n < 32; n++ {
		odd[n] = row
		row <<= 1
	}

	// operators for two and four zero bits
	even.square(&odd)
	odd.square(&even)

	// apply len2 zero bytes to crc1, squaring as we go through the bits
	for {
		even.square(&odd)
		if len2&1 != 0 {
			crc1 = even.times(crc1)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}
		odd.square(&even)
		if len2&1 != 0 {
			crc1 = odd.times(crc1)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}
	}

	return crc1 ^ crc2
}

// crcMatrix is a 32x32 matrix over GF(2), one uint32 per row.
type crcMatrix [32]uint32

// times multiplies the matrix by the vector vec.
func (m *crcMatrix) times(vec uint32) uint32 {
	var sum uint32
	for i := 0; vec != 0; vec >>= 1 {
		if vec&1 != 0 {
			sum ^= m[i]
		}
		i++
	}
	return sum
}

// square sets m to mat*mat.
func (m *crcMatrix) square(mat *crcMatrix) {
	for n := range m {
		m[n] = mat.times(mat[n])
	}
}
