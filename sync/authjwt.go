package sync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// JWTClaims names the claim the bearer-JWT authenticator below checks,
// adapted from connect/jwt.go's ByJwt. The authenticator reads "user_id"
// from the verified token's MapClaims and does not use this type.
type JWTClaims struct {
	UserID string
}

// NewJWTAuthenticator builds an Authenticator that expects credentials
// to be a signed JWT string, verifies it against keyFunc, and requires
// the token's "user_id" claim to equal the nodeId's parsed userId. This
// is offered as a ready-made building block (spec.md's Auth hook is
// pluggable) rather than a hard dependency of NewServer.
func NewJWTAuthenticator(keyFunc gojwt.Keyfunc) Authenticator {
	return func(credentials any, nodeID string, headers map[string]string) (bool, error) {
		tokenString, ok := credentials.(string)
		if !ok {
			return false, nil
		}

		token, err := gojwt.Parse(tokenString, keyFunc)
		if err != nil {
			return false, nil
		}
		if !token.Valid {
			return false, nil
		}

		claims, ok := token.Claims.(gojwt.MapClaims)
		if !ok {
			return false, nil
		}

		userIDClaim, ok := claims["user_id"].(string)
		if !ok {
			return false, nil
		}

		expectedUserID, _ := parseNodeID(nodeID)
		if userIDClaim != expectedUserID {
			return false, nil
		}

		return true, nil
	}
}
