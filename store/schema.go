package store

// SchemaVersion is the schema the drivers migrate to. Bump it with every DDL change.
const SchemaVersion = "0.3.0"
