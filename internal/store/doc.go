// Package store persists whispertune state in SQLite.
//
// The database lives at <work_dir>/whispertune.db and holds prepared
// examples (log-mel features and label ids per split), fine-tuning runs,
// their evaluations and hub publications. The schema is embedded and
// versioned; a version mismatch is reported instead of migrated.
package store
