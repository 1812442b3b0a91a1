// Package negotiate resolves which stored encoding of an asset to
// serve a client, based on the formats the client accepts.
package negotiate
