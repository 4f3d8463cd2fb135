// Package errors defines the API error taxonomy and the JSON shape
// errors take on the wire.
package errors
