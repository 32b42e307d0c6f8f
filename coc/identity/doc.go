// Package identity provides device key pairs and the 48-bit device addresses
// derived from them.
package identity
