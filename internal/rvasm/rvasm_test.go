package rvasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rv32hart/internal/decoder"
)

func TestAssembleADDIMatchesHandEncodedWord(t *testing.T) {
	p := NewProgram()
	p.Add(ADDI(1, 0, 5))

	words, err := p.Encode()
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.EqualValues(t, 0x00500093, words[0])
}

func TestAssembleLoopResolvesBackwardLabel(t *testing.T) {
	p := NewProgram()
	p.Add(ADDI(1, 0, 3))
	p.Label("loop")
	p.Add(ADDI(1, 1, -1))
	p.Add(BEQ(1, 0, "done"))
	p.Add(JAL(0, "loop"))
	p.Label("done")
	p.Add(ECALL())

	words, err := p.Encode()
	require.NoError(t, err)
	require.Len(t, words, 5)

	for _, w := range words {
		_, _, err := decoder.Decode(w)
		require.NoError(t, err)
	}

	jalAction, _, err := decoder.Decode(words[3])
	require.NoError(t, err)
	assert.Equal(t, decoder.KindJAL, jalAction.Kind)
	assert.EqualValues(t, -8, jalAction.Imm) // jumps back from word index 3 to word index 1
}

func TestAssembleUndefinedLabelErrors(t *testing.T) {
	p := NewProgram()
	p.Add(JAL(0, "nowhere"))
	_, err := p.Encode()
	assert.Error(t, err)
}
