package worddiv

// The 1-byte enc field of a hit record (§6.2) packs an image flag, an
// excerpt flag, a title flag, and a 5-bit intra-document position in bits
// 3..7. The stream a record lives in (title.hit vs excerpt.hit) already
// selects which flag applies, but the position is always read back through
// these helpers so callers never hand-roll the shift.
const (
	encImageBit   byte = 1 << 0
	encExcerptBit byte = 1 << 1
	encTitleBit   byte = 1 << 2
	encPosShift        = 3
)

// EncodePosition packs a 0..31 intra-document position and the image flag
// into an enc byte for the given hit type's stream.
func EncodePosition(pos uint8, isImage bool, hitType HitType) byte {
	enc := pos << encPosShift
	if isImage {
		enc |= encImageBit
	}
	if hitType == Title {
		enc |= encTitleBit
	} else {
		enc |= encExcerptBit
	}
	return enc
}

// DecodePosition extracts the intra-document position from an enc byte.
func DecodePosition(enc byte) uint8 {
	return enc >> encPosShift
}

// IsImageHit reports whether enc's image flag is set.
func IsImageHit(enc byte) bool {
	return enc&encImageBit != 0
}
