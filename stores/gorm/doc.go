//go:build !wasm
// +build !wasm

// Package gorm implements storage.Adapter on any database GORM supports.
//
// # Database Schema
//
// AutoMigrate creates one table per auth model:
//   - users: user accounts
//   - passwords: password credentials, one per user
//   - oauth_accounts: provider account links
//   - password_reset_tokens: single-use reset tokens
//
// Record fields map to snake_case columns. Fields a model does not declare
// (additional user fields) are kept in the "extra" JSON column and cannot be
// used in Where clauses.
//
// "First match" for Update and Delete is the oldest row by created_at, then id.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	adapter := gormstore.New(db)
package gorm
