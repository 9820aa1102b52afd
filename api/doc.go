// Package api holds the contracts shared across the proactor, the I/O
// service layer, and the stream/file facades: the executor interface,
// completion callback signatures, the allocator customization point, and
// the package's error vocabulary.
package api
