// Package frame owns the capture wire contract.
//
// Ownership boundary:
// - tag dispatch over the closed frame kinds
// - big-endian header decode and payload slicing
// - encoders used by the device simulator and tests
//
// Wire layout (after the one-byte tag):
//
//	'p'  int32 length N, int64 timestamp, N payload bytes
//	'f'  int32 length N, int64 ts_left, int64 ts_right, N payload bytes (N/2 each)
//	'm'  remaining bytes as UTF-8 text
package frame
