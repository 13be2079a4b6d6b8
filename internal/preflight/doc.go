// Package preflight provides readiness checks for the filesystem paths,
// binaries and hub credentials whispertune depends on.
//
// These checks run in two contexts:
//   - The run workflow calls RunAll before preparing a dataset. If any check
//     fails the run stops before hours of feature extraction are spent.
//   - The CLI "whispertune status" command renders the individual results.
package preflight
