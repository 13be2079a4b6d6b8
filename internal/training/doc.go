// Package training describes and drives a fine-tuning run.
//
// Arguments carries the sequence-to-sequence training hyperparameters and
// their validation rules. A Plan bundles the arguments with the base
// checkpoint, model overrides, dataset sizes and the callback bridge address
// into the JSON document handed to the external runtime. ExternalRunner
// launches that runtime, streams its JSON-lines events and feeds
// evaluations to a Selector, which keeps the lowest-WER checkpoint.
package training
