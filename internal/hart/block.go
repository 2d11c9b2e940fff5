package hart

import (
	"rv32hart/internal/decoder"
	"rv32hart/internal/mmu"
)

// maxBlockActions is the basic-block length cap; a block is cut short
// here even if its last action is not control-flow.
const maxBlockActions = 100

// Block is a decoded, cacheable run of straight-line actions keyed by
// its entry PC.
type Block struct {
	EntryPC uint32
	Actions []decoder.Action
}

// cacheIt decodes linearly from entryPC until a control-flow action is
// appended or the length cap is reached, then installs the block.
// Re-installing under an existing entryPC is idempotent: the old block
// is simply replaced with an equivalent one.
func (h *Hart) cacheIt(entryPC uint32) {
	b := &Block{EntryPC: entryPC}
	pc := entryPC
	for len(b.Actions) < maxBlockActions {
		// Look-ahead fetches go to the MMU and physical memory directly,
		// so a word that cannot be fetched does not raise a trap before
		// execution reaches it; the block simply stops short of it.
		paddr, ok, err := h.MMU.Translate(pc, mmu.AccessExecute)
		if err != nil || !ok {
			break
		}
		word, err := h.Mem.ReadPhysicalWord(paddr)
		if err != nil {
			break
		}
		action, cf, err := decoder.Decode(word)
		if err != nil {
			// Defer the error to execution time, when this word is
			// actually reached, so a block that never runs this far
			// never trips an error that wouldn't otherwise fire.
			break
		}
		b.Actions = append(b.Actions, action)
		pc += 4
		if cf {
			break
		}
	}
	if len(b.Actions) == 0 {
		return
	}
	h.blocks[entryPC] = b
}

// executeFromCache runs the block installed at pc, if any, advancing PC
// and the retire counter by one per action. It stops early when an action
// ends the run or moves PC elsewhere (a page fault). It returns false
// without side effects on a cache miss.
func (h *Hart) executeFromCache(pc uint32) bool {
	b, found := h.blocks[pc]
	if !found {
		return false
	}
	for _, a := range b.Actions {
		before := h.PC
		h.execute(a)
		h.PC += 4
		h.Retired++
		if h.terminated != nil || h.PC != before+4 {
			return true
		}
	}
	return true
}
