package tokenizer

// byteEncoder maps every byte to a printable rune so BPE never sees raw
// whitespace or control characters. byteDecoder is its inverse.
var byteEncoder, byteDecoder = buildByteTables()

func buildByteTables() ([256]rune, map[rune]byte) {
	var enc [256]rune
	dec := make(map[rune]byte, 256)
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	next := 0
	for b := range 256 {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + next)
			next++
		}
		enc[b] = r
		dec[r] = byte(b)
	}
	return enc, dec
}

func encodeBytes(s string) string {
	out := make([]rune, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, byteEncoder[s[i]])
	}
	return string(out)
}

func decodeBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := byteDecoder[r]; ok {
			out = append(out, b)
		}
	}
	return out
}
