// Package reference searches a pre-built, read-only corpus of reference
// documents (help articles, guides) alongside the user's notes.
//
// Each dataset is built for one embedding provider and published per
// version. Fetcher.Ensure downloads it once, over http(s) or from an
// s3:// bucket, into the storage root as reference-<provider>-<version>.db
// and opens it with query_only set. Dataset.Search ranks documents by
// cosine similarity only; there is no lexical stage and nothing is ever
// written.
package reference
