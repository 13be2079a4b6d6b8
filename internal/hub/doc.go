// Package hub talks to a Hugging Face compatible model hub.
//
// Credentials come from an injected TokenProvider (static, environment,
// token file, interactive prompt, or a chain of those). The Client resolves
// the token on first use, verifies it through whoami-v2, downloads dataset
// and model files, creates repositories and uploads commits. Files of
// LFSThreshold bytes or more, and weight or pickle formats such as .bin and
// .safetensors of any size, go through the LFS batch API; the rest are
// inlined as base64 in the NDJSON commit payload.
//
// Publish combines those calls for a finished training run: it renders the
// model card, creates the repository if needed and pushes the output
// directory in a single commit. There is no retry and no rollback.
package hub
