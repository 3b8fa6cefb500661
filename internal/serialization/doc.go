// Package serialization persists host storages in the safetensors format.
//
// A safetensors file is laid out as:
//
//	[8 bytes: header size N (uint64 LE)]
//	[N bytes: JSON header, space padded to a multiple of 8]
//	[tensor data: raw little-endian bytes, in name order]
//
// The header maps each tensor name to its dtype, shape and byte range inside
// the data section, plus an optional "__metadata__" string map. Files written
// by this package record the SHA-256 of the data section under the metadata
// key "born.sha256"; readers verify it when present.
//
// Example usage:
//
//	w, _ := serialization.NewTensor(tensor.Shape{2, 2}, tensor.FromSlice([]float32{1, 2, 3, 4}))
//	err := serialization.WriteFile("weights.safetensors", map[string]serialization.Tensor{"w": w}, nil)
//
//	f, err := serialization.Open("weights.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//	t, err := f.Tensor("w")
//
// Element bytes are written in host byte order, so files are portable between
// little-endian hosts only.
package serialization
