package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/assetledger-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID int64
	Role   enums.Role
	JTI    string
}

// AccessTokenClaims is the token body shared with the identity service.
type AccessTokenClaims struct {
	UserID int64      `json:"user_id"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass. jwt/v5 calls it through
// the ClaimsValidator interface.
func (c AccessTokenClaims) Validate() error {
	if c.UserID <= 0 {
		return fmt.Errorf("%w: missing user id", ErrMalformedClaims)
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("%w: role %q", ErrMalformedClaims, c.Role)
	}
	if c.Subject != "" && c.Subject != strconv.FormatInt(c.UserID, 10) {
		return fmt.Errorf("%w: subject %q does not match user %d", ErrMalformedClaims, c.Subject, c.UserID)
	}
	return nil
}
