// Package chapter defines the core types, interfaces, and error taxonomy shared
// by the feed watcher, the ingestion pipeline, and their adapters.
package chapter
