package lzx

// Block types.
const (
	blockTypeNone         = 0
	BlockTypeVerbatim     = 1
	BlockTypeAligned      = 2
	BlockTypeUncompressed = 3
)

const (
	MinMatch = 2
	MaxMatch = 257

	NumChars            = 256
	NumPrimaryLengths   = 7
	NumSecondaryLengths = 249

	pretreeSymbols = 20
	alignedSymbols = 8

	pretreeTableBits = 6
	mainTableBits    = 12
	lengthTableBits  = 12
	alignedTableBits = 7

	maxCodeLen = 16

	minWindowBits = 15
	maxWindowBits = 21

	maxPositionSlots = 50
	maxMainElements  = NumChars + maxPositionSlots*8

	// FrameSize is the amount of output produced by one frame.
	FrameSize = 0x8000

	// intelFrames is the number of frames subject to E8 translation.
	intelFrames = 32768
)

// extraBits[slot] is the number of footer bits of a position slot and
// positionBase[slot] the smallest formatted offset it encodes.
var extraBits, positionBase = slotTables()

func slotTables() (extra [maxPositionSlots + 1]uint8, base [maxPositionSlots + 1]uint32) {
	j := uint8(0)
	for i := 0; i <= maxPositionSlots-1; i += 2 {
		extra[i] = j
		extra[i+1] = j
		if i != 0 && j < 17 {
			j++
		}
	}
	extra[maxPositionSlots] = 17
	b := uint32(0)
	for i := 0; i <= maxPositionSlots; i++ {
		base[i] = b
		b += 1 << extra[i]
	}
	return extra, base
}

// positionSlots returns the number of position slots for a window.
func positionSlots(windowBits uint) int {
	switch windowBits {
	case 20:
		return 42
	case 21:
		return 50
	default:
		return int(windowBits) * 2
	}
}

// ExtraBits returns the number of footer bits of position slot s.
func ExtraBits(s int) int { return int(extraBits[s]) }

// PositionBase returns the smallest formatted offset encoded by slot s.
func PositionBase(s int) uint32 { return positionBase[s] }

// PositionSlots returns the number of position slots for a window of
// 1<<windowBits bytes.
func PositionSlots(windowBits uint) int { return positionSlots(windowBits) }
