// Package git wraps a single local working tree with the
// operations the artifact workflow needs: clone, fetch and
// hard-reset to the remote tip, status snapshot, commit and
// push, and branch switching.
//
// One Engine instance is scoped to one local path. All
// operations take credentials per call; tokens are never
// cached across calls and never written into the clone's
// git configuration. There is no force push anywhere in
// this package; a non-fast-forward rejection is surfaced
// distinctly via PushError so the caller decides.
package git
