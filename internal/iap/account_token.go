package iap

import "github.com/google/uuid"

// accountTokenNamespace scopes derived tokens to this app.
var accountTokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("entitlement-api/app-account-token"))

// AppAccountToken derives the stable UUID attached to a user's purchases so
// server notifications can be matched back to the user.
func AppAccountToken(userID string) string {
	if userID == "" {
		return ""
	}
	return uuid.NewSHA1(accountTokenNamespace, []byte(userID)).String()
}
