// Package util provides common utility functions used across the grantauth
// library.
//
// Key utilities:
//   - SafeTruncate: safely truncates strings for logging sensitive data
package util
