// Package guard decides, for a requested area and the current authentication state,
// whether to render it or where to redirect.
//
// The decision table, in evaluation order:
//
//	not authenticated                    -> redirect to sign-in
//	password change pending              -> redirect to the change-password screen
//	role does not satisfy the area       -> redirect to the role's home area
//	otherwise                            -> render
//
// The sign-in and change-password screens are special areas so that the redirect
// targets above always render for the subject that was sent there. [Table.Validate]
// checks that property for every role class and state.
//
// # What this package must NOT do
//
//   - Read storage or call the auth API. Decisions are pure functions of [Subject].
//   - Trust role strings for anything beyond navigation.
package guard
