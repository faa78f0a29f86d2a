package hub

import (
	"crypto/rand"
	"math/big"
)

const (
	CodeLength      = 6
	codeCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 64
)

// GenerateCode returns a random lobby code of CodeLength uppercase
// alphanumerics.
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// freshCode draws codes until one is not in use. Existing sessions are
// never overwritten.
func (h *Hub) freshCode() (string, error) {
	for range maxCodeAttempts {
		c, err := h.codes()
		if err != nil {
			return "", err
		}
		if _, taken := h.sessions[c]; !taken {
			return c, nil
		}
		h.log.Debug("collision on code, regenerating")
	}
	return "", ErrNoFreeCode
}
