// Package app holds the runtime pieces shared by the daemon and its local
// adapters: the notification hub that fans engine events out to UI clients,
// the sealed approval store, and logger construction.
//
// Non-responsibilities:
// - JSON-RPC/HTTP protocol handling and endpoint-level mapping.
package app
