// Package facts compiles the output of a supply-chain analysis into the
// extensional relations trust policies are evaluated over.
//
// A [Snapshot] lists analyzed components together with their repositories,
// check results, dependency edges, build provenance and provenance
// expectations. [Compile] validates each record and inserts it into a
// [datalog.FactBase] declared with [Schema]. Structured documents, including
// every provenance statement, are flattened into the json_* relations: each
// node receives a numeric handle, objects and arrays link to their children
// through json_object and json_array, and scalars land in json_int,
// json_float, json_str, json_bool or json_null.
//
// Snapshots are read with [Load] or [Decode] from JSON or YAML, optionally
// zstd-compressed.
package facts
