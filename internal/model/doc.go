// Package model holds the typed entities that flow through a castplan run.
//
// Raw store values enter through GroupRecord and leave through Allocation,
// Patch, AuditEntry and ErrorEntry. Everything between those boundaries
// works on the typed values only; stores are responsible for mapping their
// own columns onto these structs.
//
// model imports nothing internal except calendar, so every other package
// can depend on it.
package model
