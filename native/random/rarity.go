package random

import "github.com/holiman/uint256"

// Rarity tiers assigned to randomly minted tokens.
const (
	Common    uint8 = 1
	Rare      uint8 = 2
	Epic      uint8 = 3
	Legendary uint8 = 4
)

// Dispersion maps a random word to a rarity tier using the last four decimal
// digits: 7.33% legendary, 14.32% epic, 27.97% rare, the rest common.
func Dispersion(word *uint256.Int) uint8 {
	var bucket uint256.Int
	bucket.Mod(word, uint256.NewInt(10000))
	r := bucket.Uint64()
	switch {
	case r < 733:
		return Legendary
	case r < 2165:
		return Epic
	case r < 4962:
		return Rare
	default:
		return Common
	}
}
