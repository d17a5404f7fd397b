// Package crc implements the three integrity checks used on a USB3
// SuperSpeed link.
//
//   - CRC5 protects the 11-bit link control word of header packets and
//     every link command.
//   - CRC16 protects the first twelve bytes of a header packet.
//   - CRC32 protects data packet payloads.
//
// The running forms take one 32-bit symbol word at a time, in the order
// the words appear on the wire, so a receiver can check a packet while it
// is still arriving:
//
//	state := crc.CRC16Init()
//	for _, w := range words {
//	    state = crc.CRC16Update(state, w)
//	}
//	sum := crc.CRC16Finalize(state)
//
// All functions are pure and safe for concurrent use.
package crc
