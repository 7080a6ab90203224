package nodeconfig

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenRemainingSeconds extracts the "exp" claim from the platform token and
// returns the seconds remaining until expiry, clamped to 0. The node holds
// no key material to verify the hub's signature, so the claim is read
// without verification; that is all the health endpoint needs.
func (id *Identity) TokenRemainingSeconds() int {
	id.mu.RLock()
	token := id.PlatformToken
	id.mu.RUnlock()

	if token == "" {
		return 0
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}

	remaining := int(time.Until(exp.Time).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
