// Package registry holds the catalog of executable blocks. A block is a
// named, reusable computation unit with a declared input/output pin schema
// and a Go handler. The engine never branches on block identity; it only
// relies on the uniform handler contract plus the declared schema, which
// is also what graph validation checks link endpoints against.
package registry
