// Package store defines interfaces for data persistence operations.
// These interfaces abstract the relational store from the capability
// handlers and HTTP endpoints, which only see domain types and the sentinel
// errors declared here.
package store
