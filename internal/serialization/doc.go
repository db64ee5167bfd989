// Package serialization provides the on-disk tensor containers used by the converter.
//
// The .born format stores a trained model: weights plus a JSON header that carries
// the layer architecture.
//
//	Format v2 structure:
//	  [0x00: Magic "BORN"]
//	  [0x04: Version (uint32 LE)]
//	  [0x08: Flags (uint32 LE)]
//	  [0x10: Header size (uint64 LE)]
//	  [0x18: Data size (uint64 LE)]
//	  [0x20: SHA-256 of the data section]
//	  [0x40: Header: JSON metadata]
//	  [Tensor data: raw bytes, 64-byte aligned]
//
// Version 1 files (no checksum, 20-byte fixed header) are still readable.
//
// SafeTensors is used for the variables of the intermediate export directory.
//
// Example usage:
//
//	if err := serialization.WriteFile("model.born", weights, header); err != nil {
//	    return err
//	}
//
//	reader, err := serialization.NewBornReader("model.born")
//	if err != nil {
//	    return err
//	}
//	defer reader.Close()
//	weights, err := reader.ReadStateDict()
package serialization
