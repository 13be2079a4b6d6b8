// Package bridge serves the collator and the metric callback to the external
// training runtime over a loopback HTTP listener.
//
// The runtime asks for batches by split and example index and receives a
// NumPy .npz archive it can load without further conversion. Evaluation
// predictions are posted back as token ids and scored with the same
// tokenizer used for labels. Every request must carry the bearer token
// written into the run plan.
package bridge
