// Package sync reconciles the registry with an on-disk source tree. The
// uploader loads entries from the tree and diffs them against the live
// snapshot; the downloader materializes the snapshot to disk, externalizing
// source-bearing fields as side files and garbage-collecting orphans.
package sync
