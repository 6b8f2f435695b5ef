package transmit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDivideToBlocks(t *testing.T) {
	type subTest struct {
		name              string
		bufferLen         int
		maxPayload        int
		expectedBlocks    int
		expectedAvailable int
	}

	subTests := []subTest{
		{"Empty", 0, 51, 0, 51},
		{"OneByte", 1, 51, 1, 50},
		{"ExactlyOneBlock", 51, 51, 1, 0},
		{"JustOverOneBlock", 52, 51, 2, 50},
		{"SeveralBlocks", 500, 222, 3, 166},
		{"NoPayloadSize", 10, 0, 0, 0},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			blocks, available := DivideToBlocks(subTest.bufferLen, subTest.maxPayload)
			assert.Equal(t, subTest.expectedBlocks, blocks)
			assert.Equal(t, subTest.expectedAvailable, available)
		})
	}
}

func TestBlockBounds(t *testing.T) {
	start, end := blockBounds(0, 10, 4)
	assert.Equal(t, []int{0, 4}, []int{start, end})
	start, end = blockBounds(2, 10, 4)
	assert.Equal(t, []int{8, 10}, []int{start, end})
}
