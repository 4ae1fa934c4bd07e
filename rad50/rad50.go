// Package rad50 implements the RADIX-50 character packing used by RT-11
// filenames. Three characters from a 40-symbol alphabet pack into one
// 16-bit word.
package rad50

import "strings"

// Charset is the RAD50 alphabet; a character's index is its base-40 digit.
const Charset = " ABCDEFGHIJKLMNOPQRSTUVWXYZ$.%0123456789"

const base = 40

// Decode unpacks a RAD50 word into its three characters.
func Decode(word uint16) string {
	chars := []byte{
		Charset[int(word)/(base*base)%base],
		Charset[int(word)/base%base],
		Charset[int(word)%base],
	}
	return string(chars)
}

// Encode packs exactly three characters into a RAD50 word. It reports
// failure if the string is the wrong length or contains a character outside
// the alphabet; note that lowercase letters are not in the alphabet.
func Encode(str string) (uint16, bool) {
	if len(str) != 3 {
		return 0, false
	}

	result := 0
	for i := 0; i < len(str); i++ {
		index := strings.IndexByte(Charset, str[i])
		if index < 0 {
			return 0, false
		}
		result = result*base + index
	}
	return uint16(result), true
}
