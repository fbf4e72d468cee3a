package prepare

// ExpandImagePlaceholder replaces each occurrence of imageTokenID in
// tokenIDs with max(1, gridT*gridH*gridW/mergeSize^2) copies of the
// same token, the expansion spec.md §4.4.1 requires before the vision
// tower can be merged into the text embedding sequence.
func ExpandImagePlaceholder(tokenIDs []int, imageTokenID int, grid [3]int, mergeSize int) []int {
	count := grid[0] * grid[1] * grid[2] / (mergeSize * mergeSize)
	if count < 1 {
		count = 1
	}
	out := make([]int, 0, len(tokenIDs)+count)
	for _, id := range tokenIDs {
		if id != imageTokenID {
			out = append(out, id)
			continue
		}
		for i := 0; i < count; i++ {
			out = append(out, imageTokenID)
		}
	}
	return out
}
