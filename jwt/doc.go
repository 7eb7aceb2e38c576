// Package jwt issues and verifies the access and refresh tokens of the
// authentication core. Both kinds are compact JWS strings signed with one key
// and told apart by the "type" claim.
package jwt
