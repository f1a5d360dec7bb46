package lsp

// Position arithmetic and per-line column translation.
//
// The host editor addresses columns in bytes of the line's raw content;
// the protocol addresses them in UTF-16 code units. Both translations
// clamp to the line bounds so a stale column never indexes past the
// current content.

// UTF16Length returns the length of s in UTF-16 code units.
func UTF16Length(s string) int {
	count := 0
	for _, r := range s {
		if r >= 0x10000 {
			count += 2 // Surrogate pair
		} else {
			count++
		}
	}
	return count
}

// ByteColumnToCharacter converts a byte offset within a line to a UTF-16
// character offset.
func ByteColumnToCharacter(line string, byteCol int) int {
	if byteCol <= 0 {
		return 0
	}
	if byteCol >= len(line) {
		return UTF16Length(line)
	}

	char := 0
	for i, r := range line {
		if i >= byteCol {
			break
		}
		if r >= 0x10000 {
			char += 2
		} else {
			char++
		}
	}
	return char
}

// CharacterToByteColumn converts a UTF-16 character offset within a line
// to a byte offset.
func CharacterToByteColumn(line string, character int) int {
	if character <= 0 {
		return 0
	}

	count := 0
	for i, r := range line {
		if count >= character {
			return i
		}
		if r >= 0x10000 {
			count += 2
		} else {
			count++
		}
	}
	return len(line)
}

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	if a.Line != b.Line {
		if a.Line < b.Line {
			return -1
		}
		return 1
	}
	if a.Character != b.Character {
		if a.Character < b.Character {
			return -1
		}
		return 1
	}
	return 0
}

// PositionInLinkRange reports whether pos falls on a link's range.
//
// Unlike the usual exclusive-end LSP convention, both boundaries count as
// on the link: a cursor sitting exactly at the end of a link still
// activates it.
func PositionInLinkRange(pos Position, rng Range) bool {
	// Before range start
	if pos.Line < rng.Start.Line {
		return false
	}
	if pos.Line == rng.Start.Line && pos.Character < rng.Start.Character {
		return false
	}

	// After range end
	if pos.Line > rng.End.Line {
		return false
	}
	if pos.Line == rng.End.Line && pos.Character > rng.End.Character {
		return false
	}

	return true
}
