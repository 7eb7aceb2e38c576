// Package httpapi serves the Engine over HTTP for `authcore serve`.
//
// Credential checks (passwords, signup, email flows) belong to the host
// application. This API covers what the Engine owns: token rotation and
// revocation, sessions, second factors, passkeys and the admin surface for
// IP rules and account locks. Routes live under /api/v1.
package httpapi
