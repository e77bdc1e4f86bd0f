package code

import (
	"math/rand"
	"strings"
)

// Alphabet skips 0, O, I and l so codes survive being read out loud.
const Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const DefaultLength = 6

var letters = strings.Split(Alphabet, "")

func Generate(length int) string {
	code := ""
	for i := 0; i < length; i++ {
		index := rand.Intn(len(letters))
		code += letters[index]
	}
	return code
}

func Valid(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}
