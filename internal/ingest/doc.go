// Package ingest owns the capture device connection.
//
// Ownership boundary:
// - bind/listen with a bounded accept wait
// - one Session per accepted connection: Listening -> Accepted -> Streaming -> Closed
// - receive window management and frame reassembly across reads
// - driving decode -> reconstruct -> persist for every frame
//
// Decode, geometry and persist failures drop the frame and keep the
// session alive. Only connection-level I/O errors end streaming.
package ingest
