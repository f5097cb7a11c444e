// Package bam reads and writes BAM files while keeping alignment
// records as opaque byte slices.
//
// A Reader yields one raw record per call; individual fields are read
// through fixed-offset accessors on Record, and the variable-length
// regions through a Layout computed once per record. Tag values are
// extracted with GetTag and friends, which walk the tag region without
// decoding entries they skip. A Writer re-emits raw records unchanged
// after a filtering decision, together with a header whose @PG chain
// records the invocation.
//
// Avoiding the full decode/encode round trip per record is the point
// of the package: scanning millions of records only ever touches the
// byte slots a caller asks for.
package bam
