// Package rule defines the rule and binary-identity data model used by the
// authorization engine: rule types and states, the client operating mode, the
// precedence order in which rule types are consulted, and the JSON rule-file
// format used for import and export.
//
// The precedence order is expressed as an explicit ordered slice
// (PrecedenceOrder) rather than numeric constants, so that it is a single
// testable source of truth and new rule types can be inserted without
// renumbering anything.
package rule
