// Package output provides output formatting for chatmesh-cli.
//
// Commands render their results through a Formatter selected by the
// --output flag: a tabwriter-based table view for humans (the
// default) or indented JSON for scripts. The table formatter converts
// slices, maps, and structs reflectively, honoring `json` tags for
// column names and `table:"wide"` tags for columns hidden unless
// --wide is set.
package output
