// Package workflow orchestrates artifact persistence into
// git repositories: it keeps the registry record, the
// working tree, and the hosting platform in agreement for
// every save.
//
// A save ensures the repository is materialized locally and
// at the remote tip, writes the artifact bytes into the
// tree, commits and pushes them, and optionally opens a
// pull request through the matching platform adapter.
//
// Correctness under concurrency is per record: at most one
// clone/fetch-reset/commit-push sequence runs for a given
// (user, repository) pair at any time, enforced by an
// in-process lock table keyed by record ID. A second caller
// hitting a held lock fails fast with errs.KindBusy or
// waits up to the configured bound.
package workflow
