package ir

// OrderCodeReuse reorders events that share an effective date and level
// so that an event releasing a code comes before an event taking that code
// over (A->B and B->C on one day replay as B->C, then A->B). Such events
// must be contiguous in evs, as they are in replay order. Otherwise the
// given order is kept; a cycle of reuses is left as given.
func OrderCodeReuse(evs []ChangeEvent) {
	for start := 0; start < len(evs); {
		end := start + 1
		for end < len(evs) &&
			evs[end].EffectiveDate.Equal(evs[start].EffectiveDate) &&
			evs[end].Level == evs[start].Level {
			end++
		}
		if end-start > 1 {
			orderGroup(evs[start:end])
		}
		start = end
	}
}

func orderGroup(group []ChangeEvent) {
	n := len(group)

	// released[code] is the event giving the code up.
	released := map[string]int{}
	for i, ev := range group {
		kept := map[string]bool{}
		for _, c := range ev.NewCodes() {
			kept[c] = true
		}
		for _, c := range ev.OldCodes() {
			if !kept[c] {
				released[c] = i
			}
		}
	}

	next := make([][]int, n)
	waiting := make([]int, n)
	for j, ev := range group {
		for _, c := range ev.NewCodes() {
			i, ok := released[c]
			if !ok || i == j {
				continue
			}
			next[i] = append(next[i], j)
			waiting[j]++
		}
	}

	done := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		pick := -1
		for i := range n {
			if !done[i] && waiting[i] == 0 {
				pick = i
				break
			}
		}
		if pick < 0 {
			for i := range n {
				if !done[i] {
					order = append(order, i)
				}
			}
			break
		}
		done[pick] = true
		order = append(order, pick)
		for _, j := range next[pick] {
			waiting[j]--
		}
	}

	sorted := make([]ChangeEvent, n)
	for k, i := range order {
		sorted[k] = group[i]
	}
	copy(group, sorted)
}
