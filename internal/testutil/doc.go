// Package testutil contains helper utilities used across tests to reduce
// boilerplate when observing pipeline events and asserting engine behavior.
// These helpers are intentionally minimal and not intended for production
// usage.
package testutil
