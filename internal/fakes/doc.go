// Package fakes provides in-memory implementations of the domain ports for
// tests. All fakes are safe for concurrent use.
package fakes
