package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const appPasswordCharset = "abcdefghijklmnopqrstuvwxyz234567"

var appPasswordPattern = regexp.MustCompile(`^[a-z2-7]{4}-[a-z2-7]{4}-[a-z2-7]{4}-[a-z2-7]{4}$`)

// GenerateAppPassword returns a random app password in the xxxx-xxxx-xxxx-xxxx
// form PDSes hand out.
func GenerateAppPassword() (string, error) {
	out := make([]byte, 0, 19)
	for i := range 16 {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(appPasswordCharset))))
		if err != nil {
			return "", fmt.Errorf("generate app password: %w", err)
		}
		out = append(out, appPasswordCharset[n.Int64()])
	}
	return string(out), nil
}

// IsAppPassword reports whether s has the app password shape.
func IsAppPassword(s string) bool {
	return appPasswordPattern.MatchString(s)
}
