// Package config holds shared configuration structs for the identity
// provider. Each concern gets its own struct with cleanenv env tags and
// sensible defaults; cmd/idp reads them all at startup.
package config
