// Package connection provides the HTTP client chatmesh-cli uses to
// talk to a node.
//
// The client wraps net/http with bearer token authentication and
// knowledge of the server's JSON response envelope, so commands work
// with decoded payloads and "[CODE] message" errors rather than raw
// responses.
package connection
