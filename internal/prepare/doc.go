// Package prepare turns dataset examples into model inputs.
//
// Each example is decoded and resampled, converted to a log-mel matrix and
// its transcript tokenized into label ids. The transform is stateless and
// runs on a bounded worker pool; results are written by example index so
// output order always matches input order. The first failure cancels the
// remaining work.
package prepare
