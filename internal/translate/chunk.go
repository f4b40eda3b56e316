package translate

import (
	"strings"
)

// SplitChunks breaks text into chunks of at most size bytes at paragraph
// boundaries. Fenced code blocks and runs of table rows are never split; a
// single block larger than size becomes a chunk of its own.
func SplitChunks(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var (
		chunks  []string
		current []string
		length  int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current, length = nil, 0
		}
	}

	for _, block := range splitBlocks(text) {
		added := len(block)
		if len(current) > 0 {
			added += 2
		}
		if length+added > size && len(current) > 0 {
			flush()
			added = len(block)
		}
		current = append(current, block)
		length += added
	}
	flush()

	return chunks
}

// splitBlocks splits on blank lines, re-joining paragraphs that belong to an
// open code fence or continue a markdown table.
func splitBlocks(text string) []string {
	var (
		blocks  []string
		inFence bool
	)

	for _, para := range strings.Split(text, "\n\n") {
		join := len(blocks) > 0 && (inFence || continuesTable(blocks[len(blocks)-1], para))
		if join {
			blocks[len(blocks)-1] += "\n\n" + para
		} else {
			blocks = append(blocks, para)
		}

		if fenceLines(para)%2 == 1 {
			inFence = !inFence
		}
	}

	return blocks
}

func fenceLines(para string) int {
	n := 0
	for _, line := range strings.Split(para, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			n++
		}
	}
	return n
}

func continuesTable(prev, next string) bool {
	lines := strings.Split(strings.TrimRight(prev, "\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	first := strings.TrimSpace(next)
	return strings.HasPrefix(last, "|") && strings.HasPrefix(first, "|")
}
