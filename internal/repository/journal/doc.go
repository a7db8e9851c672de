// Package journal persists the last outcome of every package.
//
// The FileRepository keeps one record per identifier in a YAML file and
// exposes a Repository interface that the server service depends on.
package journal
