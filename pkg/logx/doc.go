// Package logx wraps zerolog behind a small stable API so the rest of the
// codebase never imports zerolog directly. The Service supports live level
// and sink changes driven by config reloads.
package logx
