// Package crawler holds the title harvesting state machine and the types
// shared across subsystems: the pagination controller that walks the
// AdvancedTitleSearch results, the detail dispatcher that scrapes each title
// page, and the merger that folds both halves into a storable Record.
//
// Nothing in this package performs I/O. Fetching, persistence and publishing
// are reached through the interfaces declared in interfaces.go.
package crawler
