// Package rules parses and evaluates eviction conditions.
//
// A condition is a three-token expression "field op value":
//
//	age > 30m            time since the entry was last written
//	size >= 1048576      encoded value size in bytes
//	source == grpc       which ingest path wrote the entry
//	key_prefix == tmp:   entry key starts with the value
//
// Numeric fields accept > >= < <= == !=; string fields accept == and !=.
package rules
