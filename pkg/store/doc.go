/*
Package store persists workspace records in a single-file bbolt database.

The store is the sole writer of workspace state. Rows are kept as JSON in
the workspaces bucket keyed by id, with a workspace_names bucket mapping
"owner/name" to id so (owner, name) uniqueness holds without scanning. A
meta bucket carries the schema version consumed by vm-migrate.

The on-disk row codec follows the external contract rather than the Go
shapes: status is stored lowercased, timestamps as Unix seconds, and
metadata/connection_info as raw JSON strings. Workspace to row and back is
lossless.

Status updates enforce the record invariants at the write boundary: moving
to Failed requires an error message, moving to Running requires a provider
id, and leaving Failed clears the previous error.
*/
package store
