// Package workflow drives a fine-tuning run end to end.
//
// A Workflow prepares the configured dataset splits into the store, starts
// the callback bridge, hands a plan to the external training runtime,
// records evaluations as they stream in, and finally saves the processor
// files and publishes the output directory to the hub. Each step is also
// exposed on its own so the CLI can run them separately.
//
// Failures mark the run failed in the store with the error's failure kind
// and are returned unchanged; nothing is retried.
package workflow
