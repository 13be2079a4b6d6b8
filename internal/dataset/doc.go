// Package dataset loads audio-transcript examples for fine-tuning.
//
// Two sources are supported. LocalSource reads a Common Voice style
// directory (<root>/<split>.tsv next to <root>/clips/). HubSource downloads
// the transcript TSV and the audio tar shards of a hub dataset, extracts
// the shards with archiver and resolves every clip to its extracted path.
//
// Both sources keep only the path and sentence columns. Split expressions
// such as "train+validation" concatenate splits in order.
package dataset
