// Package codegen generates short human-shareable codes for rooms and
// text shares.
package codegen

import "crypto/rand"

// Alphabet excludes visually confusable characters (0/O, 1/I/l).
// Upper-case only so codes compare case-insensitively after upper-casing
// the input.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// CodeLength is the length of room and text-share codes.
const CodeLength = 6

// Generate returns a fresh random code of CodeLength characters.
func Generate() string {
	return GenerateN(CodeLength)
}

// GenerateN returns a fresh random code of n characters from Alphabet.
func GenerateN(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand reads never fail on supported platforms
		panic(err)
	}
	// len(Alphabet) is 32, which divides 256 evenly, so the modulo
	// introduces no bias.
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf)
}
