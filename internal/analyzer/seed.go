package analyzer

import "unicode/utf16"

// Seed 将字符串按UTF-16码元折叠为32位有符号种子: seed = seed*31 + code (mod 2^32)
func Seed(s string) int32 {
	var acc uint32
	for _, unit := range utf16.Encode([]rune(s)) {
		acc = acc*31 + uint32(unit)
	}
	return int32(acc)
}
