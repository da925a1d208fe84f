package totp

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

var blockLimit = big.NewInt(10000)

// GenerateBackupCodes returns fresh plaintext codes of the form DDDD-DDDD
// and their bcrypt hashes, index aligned.
func (g *Generator) GenerateBackupCodes() (codes []string, hashes []string, err error) {
	n := g.config.BackupCodeCount
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), g.config.BackupCodeCost)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}
	return codes, hashes, nil
}

// MatchBackupCode compares candidate with every hash and returns the hash
// that matched. Every hash is checked even after a match.
func MatchBackupCode(candidate string, hashes []string) (string, bool) {
	candidate = canonicalBackupCode(candidate)
	if candidate == "" {
		return "", false
	}

	matched := ""
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(candidate)) == nil && matched == "" {
			matched = h
		}
	}
	return matched, matched != ""
}

func newBackupCode() (string, error) {
	a, err := rand.Int(rand.Reader, blockLimit)
	if err != nil {
		return "", err
	}
	b, err := rand.Int(rand.Reader, blockLimit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d-%04d", a.Int64(), b.Int64()), nil
}

// canonicalBackupCode accepts the code with or without the separator and
// surrounding whitespace, returning the DDDD-DDDD form or "".
func canonicalBackupCode(code string) string {
	digits := make([]byte, 0, 8)
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == '-' || c == ' ' || c == '\t':
		default:
			return ""
		}
	}
	if len(digits) != 8 {
		return ""
	}
	return string(digits[:4]) + "-" + string(digits[4:])
}

// IsBackupCodeShaped reports whether code looks like a backup code rather
// than a six digit TOTP code.
func IsBackupCodeShaped(code string) bool {
	return canonicalBackupCode(code) != ""
}
