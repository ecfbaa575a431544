// Package protocol owns the XLOper value model and its wire codec.
//
// Ownership boundary:
// - tagged value types (number, text, boolean, error, array, missing, nil,
//   integer, range reference)
// - decode/encode of one value over an ordered byte stream
// - protocol error taxonomy
//
// Every multi-byte integer is big-endian 32-bit two's complement; numbers are
// big-endian IEEE-754 doubles. Decode consumes exactly the bytes of one value.
package protocol
