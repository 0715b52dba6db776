//go:build !wasm
// +build !wasm

// Package gae implements storage.Adapter on Google Cloud Datastore.
//
// # Datastore Kinds
//
// Each auth model is one kind, keyed by the record id:
//   - User
//   - Password
//   - OAuthAccount
//   - PasswordResetToken
//
// Records are stored as property lists, so additional user fields need no
// schema change.
//
// # Queries
//
// Equality clauses joined by AND are pushed down as Datastore filters; the
// full clause list is then evaluated with storage.Match, so results are
// exact for every operator and connector. Ordering uses an internal creation
// timestamp and is done after the fetch.
//
// # Namespacing
//
// Pass a namespace to isolate tenants:
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	adapter := gae.New(client, "tenant-123")
package gae
