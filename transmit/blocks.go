package transmit

// DivideToBlocks returns how many blocks of at most `maxPayload` bytes are needed to carry `bufferLen` bytes, and how many
// bytes are still available in the last block.
func DivideToBlocks(bufferLen, maxPayload int) (blocks int, available int) {
	if bufferLen <= 0 || maxPayload <= 0 {
		return 0, maxPayload
	}
	blocks = (bufferLen + maxPayload - 1) / maxPayload
	available = blocks*maxPayload - bufferLen
	return blocks, available
}

// blockBounds returns the byte range of block `n` (zero based) of a payload.
func blockBounds(n, payloadLen, maxPayload int) (start, end int) {
	start = n * maxPayload
	end = start + maxPayload
	if end > payloadLen {
		end = payloadLen
	}
	return start, end
}
