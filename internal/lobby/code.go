package lobby

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// CodeGenerator mints human-shareable room codes.
type CodeGenerator struct {
	Alphabet string
	Length   int
}

// DefaultCodes are 4-digit numeric codes.
var DefaultCodes = CodeGenerator{Alphabet: "0123456789", Length: 4}

func (g CodeGenerator) Generate() (string, error) {
	if g.Alphabet == "" || g.Length <= 0 {
		return "", errors.New("room code alphabet and length required")
	}
	max := big.NewInt(int64(len(g.Alphabet)))

	code := make([]byte, g.Length)
	for i := range code {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = g.Alphabet[num.Int64()]
	}
	return string(code), nil
}
