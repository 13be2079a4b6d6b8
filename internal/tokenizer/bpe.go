package tokenizer

import (
	"strings"
	"sync"
)

type pair struct {
	left, right string
}

type bpe struct {
	ranks map[pair]int

	mu    sync.Mutex
	cache map[string][]string
}

func newBPE(merges []pair) *bpe {
	ranks := make(map[pair]int, len(merges))
	for i, p := range merges {
		if _, ok := ranks[p]; !ok {
			ranks[p] = i
		}
	}
	return &bpe{ranks: ranks, cache: make(map[string][]string)}
}

// split applies merges to one byte-encoded pre-token, lowest rank first.
func (b *bpe) split(word string) []string {
	b.mu.Lock()
	if cached, ok := b.cache[word]; ok {
		b.mu.Unlock()
		return cached
	}
	b.mu.Unlock()

	parts := make([]string, 0, len(word))
	for _, r := range word {
		parts = append(parts, string(r))
	}
	for len(parts) > 1 {
		best, bestRank := -1, int(^uint(0)>>1)
		for i := 0; i < len(parts)-1; i++ {
			if rank, ok := b.ranks[pair{parts[i], parts[i+1]}]; ok && rank < bestRank {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			break
		}
		target := pair{parts[best], parts[best+1]}
		merged := make([]string, 0, len(parts)-1)
		for i := 0; i < len(parts); i++ {
			if i < len(parts)-1 && parts[i] == target.left && parts[i+1] == target.right {
				merged = append(merged, target.left+target.right)
				i++
				continue
			}
			merged = append(merged, parts[i])
		}
		parts = merged
	}

	b.mu.Lock()
	b.cache[word] = parts
	b.mu.Unlock()
	return parts
}

func parseMerges(content string) []pair {
	lines := strings.Split(content, "\n")
	merges := make([]pair, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#version") {
			continue
		}
		fields := strings.Split(line, " ")
		if len(fields) != 2 {
			continue
		}
		merges = append(merges, pair{fields[0], fields[1]})
	}
	return merges
}
