// Package lists implements shared restaurant lists: ownership, share links,
// collaborator roles, items, and notes.
//
// # Roles
//
//	owner   everything, including share links and collaborator management
//	editor  add and remove items, add and delete notes
//	viewer  read only
//
// # Critical Patterns
//
// Derived Identity:
//   - Collaborator ids derive from (list, user) and item ids from
//     (list, restaurant). Concurrent duplicate adds collide on insert and
//     converge on one row
//
// Share Links:
//   - Generating a link replaces the previous one in a single write, so
//     the old link stops resolving immediately
//   - A link join commits with a version check on the list row, so it
//     cannot land after a revoke that it raced
//
// Cascades:
//   - deleteList removes collaborators, items, and list-scoped notes in the
//     same atomic write as the list
//
// Text fields are trimmed and NFC-normalized before storage.
package lists
