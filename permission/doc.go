// Package permission provides the bitmask mechanics behind Authorize.
//
// The application registers its permission names in a [Registry] (one bit each) and
// describes which roles and admin levels hold them in a [Policy]. Both are frozen at
// startup; lookups afterwards are read-only and need no I/O.
//
// # What this package must NOT do
//
//   - Ship a business role table. Roles and permissions come from the caller.
package permission
