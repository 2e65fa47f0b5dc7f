package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentSignatures returns the signatures of the last count tool calls
// across iterations, oldest first. Steps without a tool call are skipped.
func recentSignatures(records []IterationRecord, count int) []string {
	var sigs []string
	for i := len(records) - 1; i >= 0 && len(sigs) < count; i-- {
		steps := records[i].Steps
		for j := len(steps) - 1; j >= 0 && len(sigs) < count; j-- {
			if steps[j].Signature != "" {
				sigs = append(sigs, steps[j].Signature)
			}
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls repeat a
// pattern of length 1, 2 or 3, which means the executor keeps rewriting
// the same files with the same content.
func DetectLoop(records []IterationRecord, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := recentSignatures(records, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
