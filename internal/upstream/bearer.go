package upstream

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// diagnoseBearerToken does a best-effort, unverified parse of a preshared
// bearer token to warn operators about upcoming auth failures. It never
// validates a signature — the proxy has no key material for upstream
// tokens — so claims is set true whenever the token parses as a JWT, and
// expired is set true only when it also carries a readable exp claim in
// the past.
func diagnoseBearerToken(token string) (claims bool, expired bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false, false
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false, false
	}
	expTime, err := mapClaims.GetExpirationTime()
	if err != nil || expTime == nil {
		return true, false
	}
	return true, expTime.Before(time.Now())
}
