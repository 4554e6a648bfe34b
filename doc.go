// Package medicaldash is the client-side data layer of the medical practice
// admin dashboard.
//
// # Wiring
//
// A [Dashboard] owns one HTTP connection to the dashboard API, the session
// store that supplies its bearer token, and one store per resource. Build it
// with [New].
//
// # Resources
//
// Blogs, services, workshops, reviews and contacts are collections kept in a
// [store.Store]. Site settings are a singleton kept in a [store.SettingsStore].
// Stores commit only what the server answered: created records are prepended
// with the server's id, updates replace the matching record, deletes remove it.
//
// # Sessions
//
// [session.Store] logs in, persists the token with its principal and expiry
// in a [storage.Storage], and ends the session when it expires or when any
// request is answered with 401. Run [session.Store.Watch] to check expiry
// periodically.
//
// # Media
//
// [media.Resolver] turns an image field into something displayable: a
// cache-busted remote URL, or a temporary file for an upload that has not
// been sent yet.
package medicaldash
