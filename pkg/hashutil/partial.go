// Copyright (c) 2026, the sweeparr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hashutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// partialChunkSize is how much of each end of the file feeds the partial
// hash. Reading 128 KiB total keeps tie-breaking cheap on multi-GB files.
const partialChunkSize = 64 * 1024

// PartialFile hashes the first and last chunk of a file plus its size with
// xxhash64. Two files with equal partial hashes are treated as identical
// content for cross-seed disambiguation.
func PartialFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for partial hash: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file for partial hash: %w", err)
	}

	digest := xxhash.New()

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(info.Size()))
	_, _ = digest.Write(sizeBuf[:])

	head := make([]byte, partialChunkSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read file head: %w", err)
	}
	_, _ = digest.Write(head[:n])

	if tailOffset := info.Size() - partialChunkSize; tailOffset > int64(n) {
		tail := make([]byte, partialChunkSize)
		m, err := f.ReadAt(tail, tailOffset)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read file tail: %w", err)
		}
		_, _ = digest.Write(tail[:m])
	}

	return fmt.Sprintf("%016x", digest.Sum64()), nil
}
