// Package types defines the wire types shared by the agent and server: the
// request and response messages of deltacache.v1.CacheService, its
// grpc.ServiceDesc, and a typed Client.
//
// Messages travel as JSON. The package registers a grpc encoding.Codec named
// "json" at init; Client selects it on every call with
// grpc.CallContentSubtype, and servers pick it up from the request's
// content-type.
package types
